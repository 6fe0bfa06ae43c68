package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"strdash/backend"
	"strdash/core"
	"strdash/session"
	"strdash/storage"
	"strdash/util/goroutine"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string][]any
	errs  map[string]error

	alert    *core.Table
	customer *core.Table
	block    chan struct{}
	started  chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls: map[string]int{},
		args:  map[string][]any{},
		errs:  map[string]error{},
		alert: &core.Table{
			Columns: []string{core.ColAlertID, core.ColRuleID, core.ColRuleName, core.ColCustID, core.ColTranStart, core.ColTranEnd},
			Rows: [][]any{
				{"A0", "R2", "Rule two", "C1", "2024-02-01", "2024-03-01"},
				{"A1", "R1", "Rule one", "C1", "2024-01-10", "2024-04-10"},
				{"A2", " R2 ", "Rule two", "C1", "2024-02-15", "2024-03-20"},
			},
		},
		customer: &core.Table{
			Columns: []string{core.ColCustID, core.ColCustType, core.ColMemberID, core.ColKYCDatetime, core.ColEmail, core.ColPhone},
			Rows:    [][]any{{"C1", "PERSON", "M9", "2024-02-01 10:00:00", "a@b.c", "010-1234-5678"}},
		},
	}
}

func (f *fakeBackend) record(name string, args ...any) error {
	if f.started != nil && name == "alert" {
		f.started <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.args[name] = args
	return f.errs[name]
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) table(name string) *core.Table {
	return &core.Table{Columns: []string{"NAME"}, Rows: [][]any{{name}}}
}

func (f *fakeBackend) QueryAlert(_ context.Context, alertID string) (*core.Table, error) {
	if err := f.record("alert", alertID); err != nil {
		return nil, err
	}
	return f.alert, nil
}

func (f *fakeBackend) QueryCustomer(_ context.Context, custID string) (*core.Table, error) {
	if err := f.record("customer", custID); err != nil {
		return nil, err
	}
	return f.customer, nil
}

func (f *fakeBackend) QueryRuleHistory(_ context.Context, key string) (*core.Table, error) {
	if err := f.record("rule_history", key); err != nil {
		return nil, err
	}
	return f.table("rule_history"), nil
}

func (f *fakeBackend) QueryCorpRelated(_ context.Context, custID string) (*core.Table, error) {
	if err := f.record("corp_related", custID); err != nil {
		return nil, err
	}
	return f.table("corp_related"), nil
}

func (f *fakeBackend) QueryPersonRelated(_ context.Context, custID string, p backend.Period) (*core.Table, error) {
	if err := f.record("person_related", custID, p); err != nil {
		return nil, err
	}
	return f.table("person_related"), nil
}

func (f *fakeBackend) QueryDuplicates(_ context.Context, q backend.DuplicateQuery) (*core.Table, error) {
	if err := f.record("duplicates", q); err != nil {
		return nil, err
	}
	return f.table("duplicates"), nil
}

func (f *fakeBackend) QueryIPHistory(_ context.Context, memberID string, p backend.Period) (*core.Table, error) {
	if err := f.record("ip_history", memberID, p); err != nil {
		return nil, err
	}
	return f.table("ip_history"), nil
}

func (f *fakeBackend) QueryOrderbook(_ context.Context, memberID string, p backend.Period) (*backend.OrderbookHandle, error) {
	if err := f.record("orderbook", memberID, p); err != nil {
		return nil, err
	}
	return &backend.OrderbookHandle{CacheKey: "ck-1", Rows: 42}, nil
}

func (f *fakeBackend) AnalyzeOrderbook(_ context.Context, cacheKey string) (*backend.OrderbookAnalysis, error) {
	if err := f.record("orderbook_analyze", cacheKey); err != nil {
		return nil, err
	}
	return &backend.OrderbookAnalysis{Summary: f.table("summary"), Daily: &core.Table{}, Totals: map[string]any{}}, nil
}

type recordingView struct {
	mu       sync.Mutex
	begun    []string
	sections map[core.Section]SectionData
	errors   []string
	finished []*Outcome
}

func (v *recordingView) BeginSearch(alertID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.begun = append(v.begun, alertID)
	v.sections = map[core.Section]SectionData{}
}

func (v *recordingView) RenderSection(d SectionData) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sections[d.Section] = d
}

func (v *recordingView) ShowError(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sections = map[core.Section]SectionData{}
	v.errors = append(v.errors, msg)
}

func (v *recordingView) Finish(o *Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finished = append(v.finished, o)
}

type recordingNotifier struct {
	messages []string
	prompts  []session.Source
}

func (n *recordingNotifier) Notify(msg string)                    { n.messages = append(n.messages, msg) }
func (n *recordingNotifier) RequestConnection(src session.Source) { n.prompts = append(n.prompts, src) }

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	last map[string]string
}

func (m *fakeMirror) SaveToSession(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	if m.last == nil {
		m.last = map[string]string{}
	}
	m.last[key] = string(data)
	return nil
}

func (m *fakeMirror) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[key]
}

type harness struct {
	backend  *fakeBackend
	view     *recordingView
	notifier *recordingNotifier
	mirror   *fakeMirror
	conns    *session.ConnectionState
	state    *session.SearchState
	bridge   *session.Bridge
	manager  *Manager
}

func newHarness(t *testing.T, status session.ConnectionStatus) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		view:     &recordingView{sections: map[core.Section]SectionData{}},
		notifier: &recordingNotifier{},
		mirror:   &fakeMirror{},
		conns:    session.NewConnectionState(status),
		state:    session.NewSearchState(),
	}
	logger := zaptest.NewLogger(t).Sugar()
	h.bridge = session.NewBridge("sid", nil, h.mirror, 0, logger)
	catalog, err := core.ParseRuleCatalog([]byte(`
rules:
  R1:
    name: Catalog rule one
    description: Large cash deposits
    objectives: [Detect structuring]
`))
	require.NoError(t, err)

	m, err := NewManager(Deps{
		Backend:     h.backend,
		State:       h.state,
		Connections: h.conns,
		Bridge:      h.bridge,
		Catalog:     catalog,
		View:        h.view,
		Notifier:    h.notifier,
		SessionID:   "sid",
	}, logger)
	require.NoError(t, err)
	h.manager = m
	t.Cleanup(h.bridge.Wait)
	return h
}

func TestSearch_FullFlow(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	h := newHarness(t, session.ConnectionStatus{Primary: true, Analytics: true})

	out, err := h.manager.Search(context.Background(), "  A1 ")
	require.NoError(t, err)
	h.bridge.Wait()

	assert.Equal(t, StateSectionsRendered, out.State)
	assert.Equal(t, StateSectionsRendered, h.manager.State())
	assert.True(t, out.ExportReady())
	assert.False(t, h.state.IsSearching())
	assert.True(t, h.state.IsLoaded("A1"))

	assert.Equal(t, []core.Section{
		core.SectionAlertHistory, core.SectionCustomer, core.SectionPersonRelated,
		core.SectionDuplicatePersons, core.SectionIPHistory, core.SectionOrderbook,
		core.SectionRuleHistory, core.SectionObjectives, core.SectionRuleDescription,
	}, out.Rendered)
	assert.Empty(t, out.Failed)
	assert.Equal(t, []core.Section{core.SectionCorpRelated}, out.Skipped)

	assert.Equal(t, "R1", out.Derived.RepRuleID)
	assert.Equal(t, []string{"R2", "R1"}, out.Derived.CanonicalIDs)
	assert.Equal(t, []any{"R1,R2"}, h.backend.args["rule_history"], "rule key is sorted")
	assert.Equal(t, []any{"ck-1"}, h.backend.args["orderbook_analyze"])

	// KYC date postdates the derived start.
	assert.True(t, out.Period.UsedKYCDate)
	assert.Equal(t, "2024-02-01 00:00:00.000000000", out.Period.Start)
	assert.Equal(t, "2024-04-10 23:59:59.999999999", out.Period.End)
	assert.Equal(t, []any{"M9", backend.Period{Start: out.Period.Start, End: out.Period.End}}, h.backend.args["ip_history"])

	dup := h.backend.args["duplicates"][0].(backend.DuplicateQuery)
	assert.Equal(t, "C1", dup.CustID)
	assert.Equal(t, "a@b.c", dup.Email)

	history := h.view.sections[core.SectionAlertHistory]
	assert.Equal(t, 1, history.HighlightRow)
	objectives := h.view.sections[core.SectionObjectives]
	require.Equal(t, 1, len(objectives.Table.Rows))
	assert.Equal(t, "Detect structuring", objectives.Table.Rows[0][2])
	desc := h.view.sections[core.SectionRuleDescription]
	assert.Equal(t, "Rule two", desc.Table.Rows[0][1], "alert names take precedence")

	require.Len(t, h.view.finished, 1)
	assert.Contains(t, h.mirror.keys, session.KeyAlertID)
	assert.Contains(t, h.mirror.keys, session.KeyOrderbook)
	assert.Contains(t, h.mirror.keys, session.KeyRuleObjectives)
}

func TestSearch_Preconditions(t *testing.T) {
	t.Run("primary not connected", func(t *testing.T) {
		h := newHarness(t, session.ConnectionStatus{Analytics: true})
		_, err := h.manager.Search(context.Background(), "A1")
		assert.ErrorIs(t, err, ErrPrimaryNotConnected)
		assert.Equal(t, []session.Source{session.SourcePrimary}, h.notifier.prompts)
		assert.Zero(t, h.backend.total())
		assert.Equal(t, StateIdle, h.manager.State())
	})

	t.Run("empty id", func(t *testing.T) {
		h := newHarness(t, session.ConnectionStatus{Primary: true})
		_, err := h.manager.Search(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyAlertID)
		assert.Len(t, h.notifier.messages, 1)
		assert.Zero(t, h.backend.total())
		assert.Empty(t, h.view.begun)
	})

	t.Run("duplicate search", func(t *testing.T) {
		h := newHarness(t, session.ConnectionStatus{Primary: true})
		_, err := h.manager.Search(context.Background(), "A1")
		require.NoError(t, err)
		before := h.backend.total()

		_, err = h.manager.Search(context.Background(), "A1")
		assert.ErrorIs(t, err, ErrDuplicateSearch)
		assert.Equal(t, before, h.backend.total(), "no new network calls")

		_, err = h.manager.Search(context.Background(), "A2")
		assert.NoError(t, err)
	})
}

func TestSearch_InProgressIsNoop(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.started = make(chan struct{})
	h.backend.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.manager.Search(context.Background(), "A1")
		done <- err
	}()
	<-h.backend.started
	assert.Equal(t, StateSearching, h.manager.State())

	_, err := h.manager.Search(context.Background(), "A9")
	assert.ErrorIs(t, err, ErrSearchInProgress)

	close(h.backend.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.backend.count("alert"))
}

func TestSearch_ZeroRowsFails(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.alert = &core.Table{Columns: []string{core.ColAlertID}, Rows: [][]any{}}

	out, err := h.manager.Search(context.Background(), "A1")
	require.ErrorIs(t, err, ErrSearchFailed)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, StateFailed, h.manager.State())
	assert.Equal(t, "No data found for alert A1.", out.Message)
	assert.False(t, out.ExportReady())
	assert.False(t, h.state.IsSearching())
	assert.False(t, h.state.HasData())
	assert.Equal(t, []string{out.Message}, h.view.errors)
	assert.Empty(t, h.view.sections)
	assert.Equal(t, 1, h.backend.total(), "dependent fetches never start")
}

func TestSearch_BusinessFailureMessage(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.errs["alert"] = &backend.Error{Kind: backend.KindBusiness, Message: "Alert not visible"}

	out, err := h.manager.Search(context.Background(), "A1")
	require.Error(t, err)
	assert.True(t, backend.IsKind(err, backend.KindBusiness))
	assert.Equal(t, "Alert not visible", out.Message)
}

func TestSearch_CustomerFailureDoesNotAffectRuleHistory(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true, Analytics: true})
	h.backend.errs["customer"] = &backend.Error{Kind: backend.KindTransport, Err: errors.New("reset")}

	out, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)

	assert.Equal(t, StateSectionsRendered, out.State)
	assert.Contains(t, out.Rendered, core.SectionRuleHistory)
	assert.Equal(t, []core.Section{core.SectionCustomer}, out.Failed)
	assert.Contains(t, h.view.sections, core.SectionRuleHistory)
	assert.NotContains(t, h.view.sections, core.SectionCustomer)
	assert.Zero(t, h.backend.count("duplicates"), "dependents need a customer profile")
	assert.Zero(t, h.backend.count("ip_history"))
	assert.False(t, out.Period.UsedKYCDate)
}

func TestSearch_BranchPanicIsContained(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.customer = nil

	var view panickyView
	view.recordingView = h.view
	h.manager.view = &view

	out, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	assert.Contains(t, out.Failed, core.SectionRuleHistory)
}

type panickyView struct {
	*recordingView
}

func (p *panickyView) RenderSection(d SectionData) {
	if d.Section == core.SectionRuleHistory {
		panic("render exploded")
	}
	p.recordingView.RenderSection(d)
}

func TestSearch_CorporateCustomer(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.customer = &core.Table{
		Columns: []string{core.ColCustID, core.ColCustType, core.ColMemberID},
		Rows:    [][]any{{"C1", "법인", "M9"}},
	}

	out, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.count("corp_related"))
	assert.Zero(t, h.backend.count("person_related"))
	assert.Equal(t, 1, h.backend.count("ip_history"))
	assert.Zero(t, h.backend.count("orderbook"), "analytics is not connected")
	assert.Contains(t, out.Skipped, core.SectionOrderbook)
}

func TestSearch_NoMemberID(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true, Analytics: true})
	h.backend.customer = &core.Table{
		Columns: []string{core.ColCustID, core.ColCustType},
		Rows:    [][]any{{"C1", "PERSON"}},
	}

	out, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	assert.Zero(t, h.backend.count("ip_history"))
	assert.Zero(t, h.backend.count("orderbook"))
	assert.Equal(t, 1, h.backend.count("person_related"))
	assert.Equal(t, 1, h.backend.count("duplicates"))
	assert.Subset(t, out.Skipped, []core.Section{core.SectionIPHistory, core.SectionOrderbook})
}

func TestSearch_NoRuleColumns(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	h.backend.alert = &core.Table{
		Columns: []string{core.ColCustID},
		Rows:    [][]any{{"C1"}},
	}

	out, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	assert.Zero(t, h.backend.count("rule_history"))
	assert.Contains(t, out.Skipped, core.SectionRuleHistory)
	assert.Equal(t, 1, h.backend.count("customer"), "customer falls back to the first row")
	assert.Zero(t, h.backend.count("person_related"), "no period without transaction columns")
}

type auditRecorder struct {
	mu     sync.Mutex
	events []storage.AuditEvent
}

func (a *auditRecorder) Record(_ context.Context, e storage.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func TestSearch_Audited(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true})
	auditor := &auditRecorder{}
	h.manager.auditor = auditor

	_, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, storage.AuditKindSearch, auditor.events[0].Kind)
	assert.Equal(t, "A1", auditor.events[0].Subject)
	assert.Equal(t, string(StateSectionsRendered), auditor.events[0].Outcome)
}

func TestRuleHistoryKey(t *testing.T) {
	assert.Equal(t, "A,B,C", RuleHistoryKey([]string{"C", "A", "B"}))
	assert.Equal(t, "", RuleHistoryKey(nil))
}

func TestSearch_NewSearchResetsMirroredValues(t *testing.T) {
	h := newHarness(t, session.ConnectionStatus{Primary: true, Analytics: true})

	_, err := h.manager.Search(context.Background(), "A1")
	require.NoError(t, err)
	h.bridge.Wait()
	require.Contains(t, h.mirror.value(session.KeyCustomerData), "C1")
	require.Contains(t, h.mirror.value(session.KeyIPHistory), "ip_history")

	h.backend.mu.Lock()
	h.backend.errs["customer"] = errors.New("customer service down")
	h.backend.mu.Unlock()

	out, err := h.manager.Search(context.Background(), "A2")
	require.NoError(t, err)
	h.bridge.Wait()

	assert.Contains(t, out.Failed, core.SectionCustomer)
	assert.Equal(t, `"A2"`, h.mirror.value(session.KeyAlertID))
	for _, key := range []string{
		session.KeyCustomerData, session.KeyCorpRelated, session.KeyPersonRelated,
		session.KeyDuplicates, session.KeyIPHistory, session.KeyOrderbook,
	} {
		assert.Equal(t, "null", h.mirror.value(key), "%s still holds the previous alert", key)
	}
	assert.NotEqual(t, "null", h.mirror.value(session.KeyRuleHistory))
}

func TestSearch_RestoreFromStore(t *testing.T) {
	store, err := session.NewMemoryStore(64)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t).Sugar()
	ctx := context.Background()

	newManager := func(b Backend, view View) (*Manager, *session.Bridge) {
		bridge := session.NewBridge("sid", store, nil, 0, logger)
		m, err := NewManager(Deps{
			Backend:     b,
			State:       session.NewSearchState(),
			Connections: session.NewConnectionState(session.ConnectionStatus{Primary: true, Analytics: true}),
			Bridge:      bridge,
			View:        view,
			SessionID:   "sid",
		}, logger)
		require.NoError(t, err)
		return m, bridge
	}

	empty, _ := newManager(newFakeBackend(), nil)
	_, err = empty.Restore(ctx)
	require.ErrorIs(t, err, ErrNothingToRestore)

	first, bridge := newManager(newFakeBackend(), nil)
	searched, err := first.Search(ctx, "A1")
	require.NoError(t, err)
	bridge.Wait()

	fb := newFakeBackend()
	view := &recordingView{sections: map[core.Section]SectionData{}}
	second, _ := newManager(fb, view)
	restored, err := second.Restore(ctx)
	require.NoError(t, err)

	assert.Zero(t, fb.total(), "restore makes no backend request")
	assert.Equal(t, "A1", restored.AlertID)
	assert.Equal(t, StateSectionsRendered, second.State())
	assert.True(t, restored.ExportReady())
	assert.Equal(t, searched.Derived, restored.Derived)
	assert.Equal(t, searched.Period, restored.Period)
	assert.ElementsMatch(t, searched.Rendered, restored.Rendered)
	assert.Contains(t, view.sections, core.SectionCustomer)
	assert.Equal(t, 1, view.sections[core.SectionAlertHistory].HighlightRow)
	require.Len(t, view.finished, 1)
}
