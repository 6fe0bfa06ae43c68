// Package api serves the investigation dashboard: the page, the JSON
// endpoints behind its buttons and a WebSocket stream of section renders.
package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"strdash/config"
	"strdash/render"
	"strdash/storage"
	"strdash/util/goroutine"
)

const (
	maxAuthFailures   = 5
	authBlockDuration = 10 * time.Minute
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// authFailureEntry holds auth failure count and last failure time
type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// AuditReader lists recorded investigator actions.
type AuditReader interface {
	Recent(ctx context.Context, limit int, kind string) ([]storage.AuditEvent, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	router   *mux.Router
	server   *http.Server
	config   *config.Config
	registry *Registry
	hub      *Hub
	audit    AuditReader
	upgrader websocket.Upgrader
	secret   []byte
	logger   *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer creates the dashboard server. audit may be nil when the audit
// trail is disabled.
func NewServer(cfg *config.Config, factory WorkspaceFactory, audit AuditReader, logger *zap.SugaredLogger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if factory == nil {
		return nil, errors.New("api server requires a workspace factory")
	}

	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		logger.Warnw("No session secret configured; sessions will not survive a restart")
	}

	registry, err := NewRegistry(cfg.Session.MaxSessions, cfg.Session.TTL, factory, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:       mux.NewRouter(),
		config:       cfg,
		registry:     registry,
		hub:          NewHub(context.Background(), logger),
		audit:        audit,
		secret:       secret,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		authFailures: make(map[string]*authFailureEntry),
		stopCh:       make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	registry.OnCreate(s.attachWorkspace)
	s.setupRoutes()

	go s.hub.Start()
	go func() {
		defer goroutine.Recover("rate-limiter-cleanup", logger)
		s.cleanupRateLimiters()
	}()
	return s, nil
}

// attachWorkspace streams a new workspace's page events to its clients.
func (s *Server) attachWorkspace(ws *Workspace) {
	id := ws.ID
	ws.Page.OnChange(func(e render.Event) {
		_ = s.hub.Publish(id, e.Type, e)
	})
}

// setupRoutes sets up the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.errorRecoveryMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	dash := s.router.NewRoute().Subrouter()
	if s.config.Auth.Enabled {
		dash.Use(s.basicAuthMiddleware)
	}
	dash.Use(s.sessionMiddleware)

	dash.HandleFunc("/", s.index).Methods(http.MethodGet)
	dash.HandleFunc("/api/state", s.getState).Methods(http.MethodGet)
	dash.HandleFunc("/api/search", s.postSearch).Methods(http.MethodPost)
	dash.HandleFunc("/api/connections", s.getConnections).Methods(http.MethodGet)
	dash.HandleFunc("/api/connections/connect-all", s.postConnectAll).Methods(http.MethodPost)
	dash.HandleFunc("/api/connections/{source}/test", s.postConnectionTest).Methods(http.MethodPost)
	dash.HandleFunc("/api/export/prepare", s.postExportPrepare).Methods(http.MethodPost)
	dash.HandleFunc("/api/export/download", s.getExportDownload).Methods(http.MethodGet)
	dash.HandleFunc("/api/audit", s.getAudit).Methods(http.MethodGet)
	dash.HandleFunc("/ws", s.serveWebSocket).Methods(http.MethodGet)
}

// checkOrigin accepts same-host origins and the configured ones.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the workspace registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start listens on the configured address until Stop.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	s.logger.Infow("Dashboard listening",
		"addr", s.server.Addr,
		"tls", s.config.Server.TLS,
		"auth", s.config.Auth.Enabled)

	var err error
	if s.config.Server.TLS {
		err = s.server.ListenAndServeTLS(s.config.Server.CertFile, s.config.Server.KeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down, closes the WebSocket clients and every
// workspace.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.server != nil {
			err = s.server.Shutdown(ctx)
		}
		s.hub.Stop()
		s.registry.Purge()
	})
	return err
}
