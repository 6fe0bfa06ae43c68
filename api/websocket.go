package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"strdash/metrics"
	"strdash/util/goroutine"
)

// WebSocket configuration constants
const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512

	sendChannelSize = 256
)

// WebSocketMessage is one message pushed to a dashboard.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// envelope is a message addressed to the clients of one session.
type envelope struct {
	sessionID string
	payload   []byte
}

// client is a single WebSocket connection of a session.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

// Hub keeps the WebSocket clients of every session and delivers each
// session's page events to that session's clients only.
type Hub struct {
	clients    map[string]map[*client]struct{}
	publish    chan envelope
	register   chan *client
	unregister chan *client

	mu     sync.RWMutex
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. It must be started with Start.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		publish:    make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop. It must be called exactly once.
func (h *Hub) Start() {
	defer close(h.done)
	defer goroutine.Recover("websocket-hub", h.logger)

	h.logger.Info("WebSocket hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
					c.conn.Close()
				}
			}
			h.clients = make(map[string]map[*client]struct{})
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			h.logger.Info("WebSocket hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.sessionID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.sessionID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Debugw("WebSocket client registered", "session_id", c.sessionID)

		case c := <-h.unregister:
			h.remove(c)

		case env := <-h.publish:
			h.mu.RLock()
			for c := range h.clients[env.sessionID] {
				select {
				case c.send <- env.payload:
				default:
					// A slow client is dropped rather than blocking the session.
					go func(slow *client) {
						h.drop(slow)
						slow.conn.Close()
					}(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	metrics.WebSocketClients.Dec()
	h.logger.Debugw("WebSocket client unregistered", "session_id", c.sessionID)
}

// Publish sends a message to the clients of one session. It never blocks
// longer than a second; a dropped message only delays the dashboard until
// its next refresh.
func (h *Hub) Publish(sessionID, msgType string, data interface{}) error {
	payload, err := json.Marshal(WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message",
			"type", msgType,
			"error", err)
		return err
	}

	select {
	case h.publish <- envelope{sessionID: sessionID, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return nil
	case <-time.After(time.Second):
		h.logger.Warnw("WebSocket publish timeout",
			"type", msgType,
			"session_id", sessionID)
		return nil
	}
}

// ClientCount returns the number of clients of a session.
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Stop shuts the hub down and waits for the loop to exit.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients do not send messages; reading detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs upgrades the request and attaches the connection to the
// session's client set.
func (h *Hub) serveWs(upgrader *websocket.Upgrader, sessionID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendChannelSize),
	}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
