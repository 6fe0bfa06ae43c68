package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"strdash/backend"
	"strdash/config"
	"strdash/connection"
	"strdash/core"
	"strdash/export"
	"strdash/metrics"
	"strdash/render"
	"strdash/search"
	"strdash/session"
	"strdash/storage"
	"strdash/util/goroutine"
)

// Auditor records investigator actions.
type Auditor interface {
	Record(ctx context.Context, e storage.AuditEvent) error
}

// WorkspaceOptions are shared by every workspace a server creates.
type WorkspaceOptions struct {
	Backend        backend.Config
	Catalog        *core.RuleCatalog
	CorporateTypes []string
	Store          session.Store
	MirrorTimeout  time.Duration
	Auditor        Auditor
	Labels         map[string]string
	Defaults       connection.ConnectAllParams
}

// WorkspaceOptionsFromConfig maps the configuration onto workspace options.
func WorkspaceOptionsFromConfig(cfg *config.Config, catalog *core.RuleCatalog, store session.Store, auditor Auditor) WorkspaceOptions {
	b := cfg.Backend
	return WorkspaceOptions{
		Backend: backend.Config{
			BaseURL:    b.BaseURL,
			Timeout:    b.Timeout,
			CSRFCookie: b.CSRFCookie,
			CSRFHeader: b.CSRFHeader,
			CSRFPath:   b.CSRFPath,
			LoginPath:  b.LoginPath,
			Username:   b.Username,
			Password:   b.Password,
			Routes:     backend.DefaultRoutes().WithOverrides(b.Routes),
			Breaker: core.BreakerConfig{
				MaxFailures:         b.CircuitBreaker.MaxFailures,
				Timeout:             b.CircuitBreaker.Timeout,
				MaxHalfOpenRequests: b.CircuitBreaker.MaxHalfOpenRequests,
			},
		},
		Catalog:        catalog,
		CorporateTypes: cfg.Rules.CorporateTypes,
		Store:          store,
		MirrorTimeout:  b.MirrorTimeout,
		Auditor:        auditor,
		Defaults: connection.ConnectAllParams{
			Primary: connection.PrimaryParams{
				Host:        cfg.Sources.Primary.Host,
				Port:        cfg.Sources.Primary.Port,
				ServiceName: cfg.Sources.Primary.ServiceName,
				Username:    cfg.Sources.Primary.Username,
				Password:    cfg.Sources.Primary.Password,
			},
			Analytics: connection.AnalyticsParams{
				Host:     cfg.Sources.Analytics.Host,
				Port:     cfg.Sources.Analytics.Port,
				DBName:   cfg.Sources.Analytics.DBName,
				Username: cfg.Sources.Analytics.Username,
				Password: cfg.Sources.Analytics.Password,
			},
		},
	}
}

// Workspace is everything one investigator works with: a backend session,
// the search and connection state, the managers acting on them and the
// page they render into.
type Workspace struct {
	ID          string
	Client      *backend.Client
	Backend     *backend.API
	SearchState *session.SearchState
	Connections *session.ConnectionState
	Bridge      *session.Bridge
	Connection  *connection.Manager
	Search      *search.Manager
	Export      *export.Manager
	Page        *render.Page
	Defaults    connection.ConnectAllParams

	createdAt time.Time
	lastSeen  atomic.Int64
	resync    atomic.Bool
	logger    *zap.SugaredLogger
}

// NewWorkspace wires a workspace with its own backend session.
func NewWorkspace(id string, opts WorkspaceOptions, logger *zap.SugaredLogger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("session_id", id)

	client, err := backend.NewClient(opts.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	api := backend.NewAPI(client)

	searchState := session.NewSearchState()
	conns := session.NewConnectionState(session.ConnectionStatus{})
	bridge := session.NewBridge(id, opts.Store, api, opts.MirrorTimeout, logger)
	page := render.NewPage(render.NewRenderer(opts.Labels), logger)

	connMgr := connection.NewManager(api, conns, page, logger)
	exportMgr := export.NewManager(api, searchState, bridge, logger)

	deps := search.Deps{
		Backend:        api,
		State:          searchState,
		Connections:    conns,
		Bridge:         bridge,
		Catalog:        opts.Catalog,
		View:           page,
		Notifier:       page,
		SessionID:      id,
		CorporateTypes: opts.CorporateTypes,
	}
	if opts.Auditor != nil {
		deps.Auditor = opts.Auditor
		connMgr.SetAuditor(opts.Auditor, id)
		exportMgr.SetAuditor(opts.Auditor, id)
	}
	searchMgr, err := search.NewManager(deps, logger)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		ID:          id,
		Client:      client,
		Backend:     api,
		SearchState: searchState,
		Connections: conns,
		Bridge:      bridge,
		Connection:  connMgr,
		Search:      searchMgr,
		Export:      exportMgr,
		Page:        page,
		Defaults:    opts.Defaults,
		createdAt:   time.Now(),
		logger:      logger,
	}
	ws.touch()
	return ws, nil
}

// Ready performs the one-shot backend session initialisation. Every
// operation that talks to the backend awaits it first. A restored
// workspace then seeds the new backend session with its stored values.
func (w *Workspace) Ready(ctx context.Context) error {
	if err := w.Client.Init(ctx); err != nil {
		return err
	}
	if w.resync.CompareAndSwap(true, false) {
		n := w.Bridge.Resync(ctx)
		w.logger.Infow("Backend session reseeded from snapshot", "keys", n)
	}
	return nil
}

// Restore rebuilds the last search of this session from the snapshot
// store. It reports whether anything was restored.
func (w *Workspace) Restore(ctx context.Context) bool {
	out, err := w.Search.Restore(ctx)
	if err != nil {
		if !errors.Is(err, search.ErrNothingToRestore) {
			w.logger.Warnw("Failed to restore workspace", "error", err)
		}
		return false
	}
	w.resync.Store(true)
	w.logger.Infow("Workspace restored", "alert_id", out.AlertID)
	return true
}

func (w *Workspace) touch() {
	w.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the workspace was last used.
func (w *Workspace) LastSeen() time.Time {
	return time.Unix(0, w.lastSeen.Load())
}

// Close waits for in-flight session mirrors. The snapshot is kept so a
// later workspace of the same session can restore it; the store bounds
// its lifetime.
func (w *Workspace) Close() {
	w.Bridge.Close()
	w.logger.Infow("Workspace closed", "age", time.Since(w.createdAt).Round(time.Second))
}

// restoreTimeout bounds reading a snapshot when a workspace is created.
const restoreTimeout = 5 * time.Second

// WorkspaceFactory creates the workspace for a new session id.
type WorkspaceFactory func(id string) (*Workspace, error)

// Registry holds the live workspaces. The least recently used workspace
// is closed when the registry is full; idle workspaces expire after ttl.
type Registry struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Workspace]
	ttl      time.Duration
	factory  WorkspaceFactory
	onCreate []func(*Workspace)
	logger   *zap.SugaredLogger
}

// NewRegistry creates a registry of at most size workspaces.
func NewRegistry(size int, ttl time.Duration, factory WorkspaceFactory, logger *zap.SugaredLogger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if size <= 0 {
		size = 256
	}
	r := &Registry{ttl: ttl, factory: factory, logger: logger}
	cache, err := lru.NewWithEvict[string, *Workspace](size, r.evicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace registry: %w", err)
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) evicted(id string, ws *Workspace) {
	metrics.ActiveWorkspaces.Dec()
	r.logger.Infow("Workspace evicted", "session_id", id)
	go func() {
		defer goroutine.Recover("workspace-close", r.logger)
		ws.Close()
	}()
}

// OnCreate registers a hook run for every new workspace.
func (r *Registry) OnCreate(fn func(*Workspace)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = append(r.onCreate, fn)
}

// Get returns a live workspace. An expired workspace is removed.
func (r *Registry) Get(id string) (*Workspace, bool) {
	ws, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	if r.ttl > 0 && time.Since(ws.LastSeen()) > r.ttl {
		r.cache.Remove(id)
		return nil, false
	}
	ws.touch()
	return ws, true
}

// GetOrCreate returns the workspace for id, creating it when missing. The
// boolean reports whether it was created.
func (r *Registry) GetOrCreate(id string) (*Workspace, bool, error) {
	if ws, ok := r.Get(id); ok {
		return ws, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ws, ok := r.cache.Get(id); ok {
		ws.touch()
		return ws, false, nil
	}

	ws, err := r.factory(id)
	if err != nil {
		return nil, false, err
	}
	for _, fn := range r.onCreate {
		fn(ws)
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	ws.Restore(ctx)
	cancel()
	r.cache.Add(id, ws)
	metrics.ActiveWorkspaces.Inc()
	r.logger.Infow("Workspace created", "session_id", id, "active", r.cache.Len())
	return ws, true, nil
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Purge closes every workspace.
func (r *Registry) Purge() {
	r.cache.Purge()
}
