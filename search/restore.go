package search

import (
	"context"
	"errors"

	"strdash/backend"
	"strdash/core"
	"strdash/session"
)

// ErrNothingToRestore is returned when the store holds no searched alert.
var ErrNothingToRestore = errors.New("no stored search to restore")

// restorable maps the stored table keys onto the sections they render.
var restorable = []struct {
	key     string
	section core.Section
}{
	{session.KeyCustomerData, core.SectionCustomer},
	{session.KeyRuleHistory, core.SectionRuleHistory},
	{session.KeyCorpRelated, core.SectionCorpRelated},
	{session.KeyPersonRelated, core.SectionPersonRelated},
	{session.KeyDuplicates, core.SectionDuplicatePersons},
	{session.KeyIPHistory, core.SectionIPHistory},
}

// Restore rebuilds the search state and the view from the values the
// bridge stored during an earlier search of this session. No backend
// request is made. Sections whose value was not stored stay hidden.
func (m *Manager) Restore(ctx context.Context) (*Outcome, error) {
	if !m.state.Begin() {
		return nil, ErrSearchInProgress
	}
	defer m.state.End()

	var alertID string
	alert := &core.Table{}
	found, err := m.bridge.Load(ctx, session.KeyAlertID, &alertID)
	if err == nil && found {
		found, err = m.bridge.Load(ctx, session.KeyAlertData, alert)
	}
	if err != nil {
		return nil, err
	}
	if !found || alertID == "" || alert.Empty() {
		return nil, ErrNothingToRestore
	}

	derived := core.ProcessAlertData(alert, alertID)
	run := &searchRun{m: m, alertID: alertID, outcome: &Outcome{
		AlertID:  alertID,
		Derived:  derived,
		Rendered: []core.Section{},
		Failed:   []core.Section{},
		Skipped:  []core.Section{},
	}}

	m.state.Reset()
	m.state.Load(alertID, alert, derived)
	m.view.BeginSearch(alertID)

	var period core.TransactionPeriod
	if ok, err := m.bridge.Load(ctx, session.KeyPeriod, &period); err != nil || !ok {
		period = core.ExtractTransactionPeriod(alert, m.catalog.SpecialRules(), "")
	}
	run.outcome.Period = period
	m.state.SetPeriod(period)

	for _, r := range restorable {
		t := &core.Table{}
		ok, err := m.bridge.Load(ctx, r.key, t)
		if err != nil {
			m.logger.Warnw("Failed to restore section", "section", r.section, "error", err)
		}
		if !ok || err != nil {
			run.skip(r.section)
			continue
		}
		if r.section == core.SectionCustomer {
			m.state.SetCustomer(t)
		}
		run.sectionDone(r.section, nil)
		run.render(SectionData{Section: r.section, Table: t, HighlightRow: -1, Period: period})
	}

	analysis := &backend.OrderbookAnalysis{}
	if ok, err := m.bridge.Load(ctx, session.KeyOrderbook, analysis); err == nil && ok {
		run.sectionDone(core.SectionOrderbook, nil)
		run.render(SectionData{Section: core.SectionOrderbook, Table: analysis.Summary, HighlightRow: -1, Orderbook: analysis, Period: period})
	} else {
		run.skip(core.SectionOrderbook)
	}

	run.local(ctx, alert, derived, period)

	out := run.outcome
	out.State = StateSectionsRendered
	sortSections(out)
	m.setPhase(StateSectionsRendered)
	m.view.Finish(out)
	m.logger.Infow("Search restored",
		"alert_id", alertID,
		"session_id", m.sessionID,
		"rendered", out.Rendered)
	return out, nil
}
