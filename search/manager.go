// Package search orchestrates an alert search: the primary alert fetch,
// the dependent fan-out queries and the rendering of their sections.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"strdash/backend"
	"strdash/core"
	"strdash/metrics"
	"strdash/session"
	"strdash/storage"
	"strdash/util"
)

// Precondition errors. A search rejected with one of these changed nothing
// and issued no backend request.
var (
	ErrSearchInProgress    = errors.New("a search is already in progress")
	ErrPrimaryNotConnected = errors.New("the Oracle data source is not connected")
	ErrEmptyAlertID        = errors.New("alert id is required")
	ErrDuplicateSearch     = errors.New("alert is already loaded")
)

// ErrSearchFailed wraps the cause of a search that ended in StateFailed.
var ErrSearchFailed = errors.New("search failed")

var errNoAlertRows = errors.New("alert query returned no rows")

// DefaultCorporateTypes are the CUST_TYPE_CD values of corporate customers.
var DefaultCorporateTypes = []string{"CORP", "법인"}

// State is the search lifecycle state.
type State string

// Search states
const (
	StateIdle             State = "idle"
	StateSearching        State = "searching"
	StateSectionsRendered State = "sections_rendered"
	StateFailed           State = "failed"
)

// Backend is the subset of the backend API a search calls.
type Backend interface {
	QueryAlert(ctx context.Context, alertID string) (*core.Table, error)
	QueryCustomer(ctx context.Context, custID string) (*core.Table, error)
	QueryRuleHistory(ctx context.Context, ruleKey string) (*core.Table, error)
	QueryCorpRelated(ctx context.Context, custID string) (*core.Table, error)
	QueryPersonRelated(ctx context.Context, custID string, period backend.Period) (*core.Table, error)
	QueryDuplicates(ctx context.Context, q backend.DuplicateQuery) (*core.Table, error)
	QueryIPHistory(ctx context.Context, memberID string, period backend.Period) (*core.Table, error)
	QueryOrderbook(ctx context.Context, memberID string, period backend.Period) (*backend.OrderbookHandle, error)
	AnalyzeOrderbook(ctx context.Context, cacheKey string) (*backend.OrderbookAnalysis, error)
}

// Auditor records finished searches.
type Auditor interface {
	Record(ctx context.Context, e storage.AuditEvent) error
}

// Outcome summarises a finished search.
type Outcome struct {
	AlertID  string                   `json:"alert_id"`
	State    State                    `json:"state"`
	Rendered []core.Section           `json:"rendered"`
	Failed   []core.Section           `json:"failed"`
	Skipped  []core.Section           `json:"skipped"`
	Message  string                   `json:"message,omitempty"`
	Derived  core.DerivedAlertContext `json:"derived"`
	Period   core.TransactionPeriod   `json:"period"`
	Duration time.Duration            `json:"duration"`
}

// ExportReady reports whether the export action should be offered.
func (o *Outcome) ExportReady() bool {
	return o != nil && o.State == StateSectionsRendered
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Backend     Backend
	State       *session.SearchState
	Connections *session.ConnectionState
	Bridge      *session.Bridge
	Catalog     *core.RuleCatalog
	View        View
	Notifier    Notifier
	Auditor     Auditor
	SessionID   string
	// CorporateTypes overrides DefaultCorporateTypes.
	CorporateTypes []string
}

// Manager is the AlertSearchManager of one workspace.
type Manager struct {
	backend   Backend
	state     *session.SearchState
	conns     *session.ConnectionState
	bridge    *session.Bridge
	catalog   *core.RuleCatalog
	view      View
	notifier  Notifier
	auditor   Auditor
	sessionID string
	corpTypes map[string]struct{}
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	phase State
}

// NewManager creates a search manager.
func NewManager(deps Deps, logger *zap.SugaredLogger) (*Manager, error) {
	if deps.Backend == nil || deps.State == nil || deps.Connections == nil {
		return nil, errors.New("search manager requires a backend, search state and connection state")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Manager{
		backend:   deps.Backend,
		state:     deps.State,
		conns:     deps.Connections,
		bridge:    deps.Bridge,
		catalog:   deps.Catalog,
		view:      deps.View,
		notifier:  deps.Notifier,
		auditor:   deps.Auditor,
		sessionID: deps.SessionID,
		corpTypes: make(map[string]struct{}),
		logger:    logger,
		phase:     StateIdle,
	}
	if m.bridge == nil {
		m.bridge = session.NewBridge(deps.SessionID, nil, nil, 0, logger)
	}
	if m.catalog == nil {
		m.catalog = core.DefaultRuleCatalog()
	}
	if m.view == nil {
		m.view = nopView{}
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	corpTypes := deps.CorporateTypes
	if len(corpTypes) == 0 {
		corpTypes = DefaultCorporateTypes
	}
	for _, t := range corpTypes {
		m.corpTypes[strings.TrimSpace(t)] = struct{}{}
	}
	return m, nil
}

// State returns the current lifecycle state. A finished search keeps its
// terminal state until the next search begins.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Manager) setPhase(s State) {
	m.mu.Lock()
	m.phase = s
	m.mu.Unlock()
}

// Search runs a search for alertID. Precondition failures are returned as
// one of the Err* sentinels and notified. A failed primary fetch returns
// the failed outcome and an error wrapping ErrSearchFailed; dependent
// fetch failures only leave their sections out.
//
// The search is not cancelled when ctx is: the caller's values are kept
// but its deadline and cancellation are ignored.
func (m *Manager) Search(ctx context.Context, alertID string) (*Outcome, error) {
	if m.state.IsSearching() {
		return nil, ErrSearchInProgress
	}
	if !m.conns.IsConnected(session.SourcePrimary) {
		m.notifier.RequestConnection(session.SourcePrimary)
		m.notifier.Notify("Connect to the Oracle data source first.")
		return nil, ErrPrimaryNotConnected
	}
	id := strings.TrimSpace(alertID)
	if id == "" {
		m.notifier.Notify("Enter an alert ID.")
		return nil, ErrEmptyAlertID
	}
	if m.state.HasData() && m.state.IsLoaded(id) {
		m.notifier.Notify(fmt.Sprintf("Alert %s is already loaded.", id))
		return nil, ErrDuplicateSearch
	}
	if !m.state.Begin() {
		return nil, ErrSearchInProgress
	}
	defer m.state.End()

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	run := &searchRun{m: m, alertID: id, outcome: &Outcome{AlertID: id}}

	m.setPhase(StateSearching)
	m.state.Reset()
	m.bridge.Reset(ctx)
	m.view.BeginSearch(id)
	m.logger.Infow("Search started", "alert_id", id, "session_id", m.sessionID)

	err := run.execute(ctx)

	out := run.outcome
	out.Duration = time.Since(start)
	sortSections(out)
	metrics.SearchDuration.Observe(out.Duration.Seconds())

	if err != nil {
		out.State = StateFailed
		out.Message = backend.UserMessage(err, "Alert search failed.")
		if errors.Is(err, errNoAlertRows) {
			out.Message = fmt.Sprintf("No data found for alert %s.", id)
		}
		out.Rendered, out.Failed, out.Skipped = []core.Section{}, []core.Section{}, []core.Section{}
		m.state.Reset()
		m.setPhase(StateFailed)
		m.view.ShowError(out.Message)
		m.view.Finish(out)
		metrics.Searches.WithLabelValues(string(StateFailed)).Inc()
		m.logger.Errorw("Search failed",
			"alert_id", id,
			"duration", out.Duration,
			"error", util.SanitizeError(err))
		m.audit(ctx, out)
		return out, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	out.State = StateSectionsRendered
	m.setPhase(StateSectionsRendered)
	m.view.Finish(out)
	metrics.Searches.WithLabelValues(string(StateSectionsRendered)).Inc()
	m.logger.Infow("Search completed",
		"alert_id", id,
		"rendered", out.Rendered,
		"failed", out.Failed,
		"duration", out.Duration)
	m.audit(ctx, out)
	return out, nil
}

func (m *Manager) audit(ctx context.Context, out *Outcome) {
	if m.auditor == nil {
		return
	}
	err := m.auditor.Record(ctx, storage.AuditEvent{
		Kind:      storage.AuditKindSearch,
		SessionID: m.sessionID,
		Subject:   out.AlertID,
		Outcome:   string(out.State),
		Message:   out.Message,
		Duration:  out.Duration,
		Details: map[string]any{
			"rendered": out.Rendered,
			"failed":   out.Failed,
		},
	})
	if err != nil {
		m.logger.Warnw("Failed to record audit event", "kind", storage.AuditKindSearch, "error", err)
	}
}

// RuleHistoryKey is the rule-history lookup key: the canonical rule ids
// sorted and comma-joined.
func RuleHistoryKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func sortSections(out *Outcome) {
	rank := make(map[core.Section]int, len(core.SectionOrder))
	for i, s := range core.SectionOrder {
		rank[s] = i
	}
	for _, list := range [][]core.Section{out.Rendered, out.Failed, out.Skipped} {
		sort.Slice(list, func(i, j int) bool { return rank[list[i]] < rank[list[j]] })
	}
}
