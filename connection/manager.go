// Package connection tests and establishes the dashboard's data source
// connections through the backend and tracks the result.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"strdash/backend"
	"strdash/metrics"
	"strdash/session"
	"strdash/storage"
	"strdash/util"
)

// ErrBusy is returned when the same trigger is already running.
var ErrBusy = errors.New("connection request already in progress")

// Trigger identifies one of the three connection actions.
type Trigger string

// Triggers
const (
	TriggerTestPrimary   Trigger = "test_primary"
	TriggerTestAnalytics Trigger = "test_analytics"
	TriggerConnectAll    Trigger = "connect_all"
)

// Form field prefixes used by the connect-all endpoint.
const (
	primaryPrefix   = "oracle_"
	analyticsPrefix = "redshift_"
)

// Backend is the subset of the backend API the manager calls.
type Backend interface {
	TestPrimary(ctx context.Context, form map[string]string) (*backend.ConnectionReport, error)
	TestAnalytics(ctx context.Context, form map[string]string) (*backend.ConnectionReport, error)
	ConnectAll(ctx context.Context, form map[string]string) (*backend.ConnectionReport, error)
}

// BadgeSink displays the status of a data source.
type BadgeSink interface {
	SetBadge(source session.Source, connected bool, message string)
}

// Auditor records connection attempts.
type Auditor interface {
	Record(ctx context.Context, e storage.AuditEvent) error
}

// Outcome summarises a connect-all.
type Outcome string

// Connect-all outcomes
const (
	OutcomeBoth          Outcome = "both"
	OutcomePrimaryOnly   Outcome = "primary_only"
	OutcomeAnalyticsOnly Outcome = "analytics_only"
	OutcomeNone          Outcome = "none"
)

// TestResult is the result of a single-source test.
type TestResult struct {
	Source    session.Source `json:"source"`
	Connected bool           `json:"connected"`
	Message   string         `json:"message"`
}

// ConnectAllResult reports each source independently.
type ConnectAllResult struct {
	Primary        bool    `json:"primary"`
	Analytics      bool    `json:"analytics"`
	PrimaryError   string  `json:"primary_error,omitempty"`
	AnalyticsError string  `json:"analytics_error,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Message        string  `json:"message"`
}

// Manager is the ConnectionManager of one workspace.
type Manager struct {
	backend   Backend
	state     *session.ConnectionState
	badges    BadgeSink
	auditor   Auditor
	sessionID string
	validate  *validator.Validate
	logger    *zap.SugaredLogger

	mu   sync.Mutex
	busy map[Trigger]bool
}

// NewManager creates a connection manager. badges may be nil.
func NewManager(b Backend, state *session.ConnectionState, badges BadgeSink, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		backend:  b,
		state:    state,
		badges:   badges,
		validate: newValidator(),
		logger:   logger,
		busy:     make(map[Trigger]bool),
	}
}

// SetAuditor enables audit entries for the given workspace session.
func (m *Manager) SetAuditor(a Auditor, sessionID string) {
	m.auditor = a
	m.sessionID = sessionID
}

// Busy reports whether a trigger is running.
func (m *Manager) Busy(t Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[t]
}

func (m *Manager) acquire(t Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[t] {
		return false
	}
	m.busy[t] = true
	return true
}

func (m *Manager) release(t Trigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, t)
}

// TestPrimary validates p and tests the Oracle connection.
func (m *Manager) TestPrimary(ctx context.Context, p PrimaryParams) (*TestResult, error) {
	if err := validateParams(m.validate, session.SourcePrimary, p); err != nil {
		return nil, err
	}
	return m.test(ctx, TriggerTestPrimary, session.SourcePrimary, p.Form(""), m.backend.TestPrimary)
}

// TestAnalytics validates p and tests the Redshift connection.
func (m *Manager) TestAnalytics(ctx context.Context, p AnalyticsParams) (*TestResult, error) {
	if err := validateParams(m.validate, session.SourceAnalytics, p); err != nil {
		return nil, err
	}
	return m.test(ctx, TriggerTestAnalytics, session.SourceAnalytics, p.Form(""), m.backend.TestAnalytics)
}

type testFunc func(ctx context.Context, form map[string]string) (*backend.ConnectionReport, error)

func (m *Manager) test(ctx context.Context, trigger Trigger, source session.Source, form map[string]string, call testFunc) (*TestResult, error) {
	if !m.acquire(trigger) {
		return nil, ErrBusy
	}
	defer m.release(trigger)

	start := time.Now()
	report, err := call(ctx, form)
	if err != nil {
		m.apply(source, false, backend.UserMessage(err, "Connection test failed"))
		metrics.ConnectionTests.WithLabelValues(string(source), "error").Inc()
		m.logger.Warnw("Connection test failed",
			"source", source,
			"error", util.SanitizeError(err))
		m.audit(ctx, string(source), "error", util.SanitizeError(err), time.Since(start), nil)
		return nil, fmt.Errorf("%s connection test: %w", source.Label(), err)
	}

	connected := report.PrimaryOK
	detail := report.PrimaryError
	if source == session.SourceAnalytics {
		connected = report.AnalyticsOK
		detail = report.AnalyticsError
	}

	result := &TestResult{Source: source, Connected: connected}
	switch {
	case connected:
		result.Message = source.Label() + " connection succeeded"
	case detail != "":
		result.Message = source.Label() + " connection failed: " + detail
	case report.Message != "":
		result.Message = report.Message
	default:
		result.Message = source.Label() + " connection failed"
	}

	m.apply(source, connected, result.Message)
	outcome := "connected"
	if !connected {
		outcome = "failed"
	}
	metrics.ConnectionTests.WithLabelValues(string(source), outcome).Inc()
	m.logger.Infow("Connection test completed",
		"source", source,
		"connected", connected,
		"duration", time.Since(start))
	m.audit(ctx, string(source), outcome, result.Message, time.Since(start), nil)
	return result, nil
}

// ConnectAll validates both parameter sets and connects both sources in
// one request. Each source's status is updated independently; partial
// success is not an error.
func (m *Manager) ConnectAll(ctx context.Context, p ConnectAllParams) (*ConnectAllResult, error) {
	if err := validateParams(m.validate, session.SourcePrimary, p.Primary); err != nil {
		return nil, err
	}
	if err := validateParams(m.validate, session.SourceAnalytics, p.Analytics); err != nil {
		return nil, err
	}
	if !m.acquire(TriggerConnectAll) {
		return nil, ErrBusy
	}
	defer m.release(TriggerConnectAll)

	form := p.Primary.Form(primaryPrefix)
	for k, v := range p.Analytics.Form(analyticsPrefix) {
		form[k] = v
	}

	start := time.Now()
	report, err := m.backend.ConnectAll(ctx, form)
	if err != nil {
		msg := backend.UserMessage(err, "Connection failed")
		m.apply(session.SourcePrimary, false, msg)
		m.apply(session.SourceAnalytics, false, msg)
		metrics.ConnectionTests.WithLabelValues("all", "error").Inc()
		m.logger.Warnw("Connect-all failed", "error", util.SanitizeError(err))
		m.audit(ctx, "all", "error", util.SanitizeError(err), time.Since(start), nil)
		return nil, fmt.Errorf("connect all: %w", err)
	}

	result := &ConnectAllResult{
		Primary:        report.PrimaryOK,
		Analytics:      report.AnalyticsOK,
		PrimaryError:   report.PrimaryError,
		AnalyticsError: report.AnalyticsError,
	}
	result.Outcome, result.Message = summarise(result)

	m.apply(session.SourcePrimary, result.Primary, sourceMessage(session.SourcePrimary, result.Primary, result.PrimaryError))
	m.apply(session.SourceAnalytics, result.Analytics, sourceMessage(session.SourceAnalytics, result.Analytics, result.AnalyticsError))

	metrics.ConnectionTests.WithLabelValues("all", string(result.Outcome)).Inc()
	m.logger.Infow("Connect-all completed",
		"outcome", result.Outcome,
		"primary", result.Primary,
		"analytics", result.Analytics,
		"duration", time.Since(start))
	m.audit(ctx, "all", string(result.Outcome), result.Message, time.Since(start), map[string]any{
		"primary":   result.Primary,
		"analytics": result.Analytics,
	})
	return result, nil
}

func summarise(r *ConnectAllResult) (Outcome, string) {
	switch {
	case r.Primary && r.Analytics:
		return OutcomeBoth, "Both data sources connected"
	case r.Primary:
		return OutcomePrimaryOnly, "Oracle connected; " + sourceMessage(session.SourceAnalytics, false, r.AnalyticsError)
	case r.Analytics:
		return OutcomeAnalyticsOnly, "Redshift connected; " + sourceMessage(session.SourcePrimary, false, r.PrimaryError)
	default:
		return OutcomeNone, "No data source connected"
	}
}

func sourceMessage(source session.Source, connected bool, detail string) string {
	if connected {
		return source.Label() + " connected"
	}
	if detail != "" {
		return source.Label() + " failed: " + detail
	}
	return source.Label() + " failed"
}

func (m *Manager) apply(source session.Source, connected bool, message string) {
	if m.state != nil {
		m.state.Set(source, connected)
	}
	if m.badges != nil {
		m.badges.SetBadge(source, connected, message)
	}
}

func (m *Manager) audit(ctx context.Context, subject, outcome, message string, d time.Duration, details map[string]any) {
	if m.auditor == nil {
		return
	}
	err := m.auditor.Record(context.WithoutCancel(ctx), storage.AuditEvent{
		Kind:      storage.AuditKindConnection,
		SessionID: m.sessionID,
		Subject:   subject,
		Outcome:   outcome,
		Message:   message,
		Details:   details,
		Duration:  d,
	})
	if err != nil {
		m.logger.Warnw("Failed to record audit event", "kind", storage.AuditKindConnection, "error", err)
	}
}
