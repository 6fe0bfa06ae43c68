package session

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"strdash/metrics"
	"strdash/util"
	"strdash/util/goroutine"
)

// Keys the backend export reads from its session.
const (
	KeyAlertID        = "current_alert_id"
	KeyAlertData      = "current_alert_data"
	KeyCustomerData   = "current_customer_data"
	KeyRuleHistory    = "current_rule_history_data"
	KeyCorpRelated    = "current_corp_related_data"
	KeyPersonRelated  = "current_person_related_data"
	KeyDuplicates     = "duplicate_persons_data"
	KeyIPHistory      = "ip_history_data"
	KeyOrderbook      = "current_orderbook_analysis"
	KeyPeriod         = "current_transaction_period"
	KeyRuleObjectives = "current_rule_objectives"
)

// SearchKeys are the keys one search writes. A new search resets all of
// them so nothing from the previous alert reaches an export.
var SearchKeys = []string{
	KeyAlertID,
	KeyAlertData,
	KeyCustomerData,
	KeyRuleHistory,
	KeyCorpRelated,
	KeyPersonRelated,
	KeyDuplicates,
	KeyIPHistory,
	KeyOrderbook,
	KeyPeriod,
	KeyRuleObjectives,
}

// Mirror writes a value into the backend session.
type Mirror interface {
	SaveToSession(ctx context.Context, key string, value any) error
}

// mirrorSlot orders the mirrors of one key. Only the latest generation is
// sent; an older value still in flight is dropped.
type mirrorSlot struct {
	mu  sync.Mutex
	gen atomic.Uint64
}

// Bridge is the SessionBridge: it records values locally and mirrors
// them to the backend session without making the caller wait.
type Bridge struct {
	sessionID string
	store     Store
	mirror    Mirror
	timeout   time.Duration
	logger    *zap.SugaredLogger

	// mu guards closed, slots and every wg.Add and wg.Wait.
	mu     sync.Mutex
	closed bool
	slots  map[string]*mirrorSlot
	wg     sync.WaitGroup
}

// NewBridge creates a bridge for one workspace. store and mirror may be
// nil to disable the respective side.
func NewBridge(sessionID string, store Store, mirror Mirror, timeout time.Duration, logger *zap.SugaredLogger) *Bridge {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Bridge{
		sessionID: sessionID,
		store:     store,
		mirror:    mirror,
		timeout:   timeout,
		logger:    logger,
		slots:     make(map[string]*mirrorSlot),
	}
}

// Save serialises value and mirrors it. Failures are logged and counted,
// never returned: a missing mirror only affects a later export.
func (b *Bridge) Save(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		b.logger.Warnw("Failed to encode session value",
			"session_id", b.sessionID,
			"key", key,
			"error", err)
		metrics.SessionMirrorFailures.Inc()
		return
	}
	b.save(ctx, key, data)
}

// Reset overwrites every search key with null, locally and in the backend
// session.
func (b *Bridge) Reset(ctx context.Context) {
	for _, key := range SearchKeys {
		b.save(ctx, key, []byte("null"))
	}
}

// Resync mirrors every locally stored search key again. A workspace
// restored from the store uses it to seed a fresh backend session.
func (b *Bridge) Resync(ctx context.Context) int {
	if b.store == nil {
		return 0
	}
	n := 0
	for _, key := range SearchKeys {
		data, found, err := b.store.Load(ctx, b.sessionID, key)
		if err != nil {
			b.logger.Warnw("Failed to load session value",
				"session_id", b.sessionID,
				"key", key,
				"error", util.SanitizeError(err))
			continue
		}
		if !found || isNull(data) {
			continue
		}
		b.send(ctx, key, data)
		n++
	}
	return n
}

func (b *Bridge) save(ctx context.Context, key string, data []byte) {
	if b.store != nil {
		if err := b.store.Save(ctx, b.sessionID, key, data); err != nil {
			b.logger.Warnw("Failed to store session value locally",
				"session_id", b.sessionID,
				"key", key,
				"error", util.SanitizeError(err))
		}
	}
	b.send(ctx, key, data)
}

func (b *Bridge) send(ctx context.Context, key string, data []byte) {
	if b.mirror == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debugw("Bridge closed, value not mirrored", "session_id", b.sessionID, "key", key)
		return
	}
	slot, ok := b.slots[key]
	if !ok {
		slot = &mirrorSlot{}
		b.slots[key] = slot
	}
	gen := slot.gen.Add(1)
	b.wg.Add(1)
	b.mu.Unlock()

	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	go func() {
		defer b.wg.Done()
		defer cancel()
		defer goroutine.Recover("session-mirror", b.logger)

		slot.mu.Lock()
		defer slot.mu.Unlock()
		if slot.gen.Load() != gen {
			return
		}
		if err := b.mirror.SaveToSession(mirrorCtx, key, json.RawMessage(data)); err != nil {
			metrics.SessionMirrorFailures.Inc()
			b.logger.Warnw("Failed to mirror value to backend session",
				"session_id", b.sessionID,
				"key", key,
				"error", util.SanitizeError(err))
		}
	}()
}

// Load decodes a locally stored value into dst. A stored null reports
// not found.
func (b *Bridge) Load(ctx context.Context, key string, dst any) (bool, error) {
	if b.store == nil {
		return false, nil
	}
	data, found, err := b.store.Load(ctx, b.sessionID, key)
	if err != nil || !found || isNull(data) {
		return false, err
	}
	return true, json.Unmarshal(data, dst)
}

// Clear drops the locally stored values of this workspace.
func (b *Bridge) Clear(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	return b.store.Clear(ctx, b.sessionID)
}

// Wait blocks until in-flight mirrors finish. Saves issued meanwhile
// wait for it to return.
func (b *Bridge) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wg.Wait()
}

// Close waits for in-flight mirrors. Later saves are stored locally but
// no longer mirrored.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.wg.Wait()
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
