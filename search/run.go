package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"strdash/backend"
	"strdash/core"
	"strdash/metrics"
	"strdash/session"
	"strdash/util"
	"strdash/util/goroutine"
)

// searchRun holds the data of one search while it runs.
type searchRun struct {
	m       *Manager
	alertID string

	mu      sync.Mutex
	outcome *Outcome
}

func (r *searchRun) execute(ctx context.Context) error {
	r.outcome.Rendered = []core.Section{}
	r.outcome.Failed = []core.Section{}
	r.outcome.Skipped = []core.Section{}

	// Step 1: the primary fetch. Everything else depends on it.
	alert, err := r.m.backend.QueryAlert(ctx, r.alertID)
	if err == nil && alert.Empty() {
		err = errNoAlertRows
	}
	if err != nil {
		return err
	}

	derived := core.ProcessAlertData(alert, r.alertID)
	r.outcome.Derived = derived
	r.m.state.Load(r.alertID, alert, derived)
	r.m.bridge.Save(ctx, session.KeyAlertID, r.alertID)
	r.m.bridge.Save(ctx, session.KeyAlertData, alert)

	// Step 2: customer profile and rule history.
	var customer *core.Table
	g := &errgroup.Group{}
	if derived.CustIDForPerson != "" {
		r.goSection(g, core.SectionCustomer, func() error {
			t, err := r.m.backend.QueryCustomer(ctx, derived.CustIDForPerson)
			if err != nil {
				return err
			}
			customer = t
			r.m.state.SetCustomer(t)
			r.m.bridge.Save(ctx, session.KeyCustomerData, t)
			r.render(SectionData{Section: core.SectionCustomer, Table: t, HighlightRow: -1})
			return nil
		})
	} else {
		r.skip(core.SectionCustomer)
	}
	if derived.HasRuleData() {
		key := RuleHistoryKey(derived.CanonicalIDs)
		r.goSection(g, core.SectionRuleHistory, func() error {
			t, err := r.m.backend.QueryRuleHistory(ctx, key)
			if err != nil {
				return err
			}
			r.m.bridge.Save(ctx, session.KeyRuleHistory, t)
			r.render(SectionData{Section: core.SectionRuleHistory, Table: t, HighlightRow: -1})
			return nil
		})
	} else {
		r.skip(core.SectionRuleHistory)
	}
	_ = g.Wait()

	var kyc string
	if !customer.Empty() {
		kyc = customer.String(0, core.ColKYCDatetime)
	}
	period := core.ExtractTransactionPeriod(alert, r.m.catalog.SpecialRules(), kyc)
	r.outcome.Period = period
	r.m.state.SetPeriod(period)
	r.m.bridge.Save(ctx, session.KeyPeriod, period)

	// Step 2b: depends on the customer profile.
	r.dependents(ctx, derived, customer, period)

	// Step 3: built from data already held.
	r.local(ctx, alert, derived, period)
	return nil
}

func (r *searchRun) dependents(ctx context.Context, derived core.DerivedAlertContext, customer *core.Table, period core.TransactionPeriod) {
	if customer.Empty() {
		r.skip(core.SectionCorpRelated, core.SectionPersonRelated, core.SectionDuplicatePersons,
			core.SectionIPHistory, core.SectionOrderbook)
		return
	}

	custID := derived.CustIDForPerson
	window := backend.Period{Start: period.Start, End: period.End}
	g := &errgroup.Group{}

	if r.isCorporate(customer.String(0, core.ColCustType)) {
		r.skip(core.SectionPersonRelated)
		r.goSection(g, core.SectionCorpRelated, func() error {
			t, err := r.m.backend.QueryCorpRelated(ctx, custID)
			if err != nil {
				return err
			}
			r.m.bridge.Save(ctx, session.KeyCorpRelated, t)
			r.render(SectionData{Section: core.SectionCorpRelated, Table: t, HighlightRow: -1})
			return nil
		})
	} else {
		r.skip(core.SectionCorpRelated)
		if period.Valid() {
			r.goSection(g, core.SectionPersonRelated, func() error {
				t, err := r.m.backend.QueryPersonRelated(ctx, custID, window)
				if err != nil {
					return err
				}
				r.m.bridge.Save(ctx, session.KeyPersonRelated, t)
				r.render(SectionData{Section: core.SectionPersonRelated, Table: t, HighlightRow: -1, Period: period})
				return nil
			})
		} else {
			r.skip(core.SectionPersonRelated)
		}
	}

	query := backend.DuplicateQuery{
		CustID:           custID,
		Email:            customer.String(0, core.ColEmail),
		Phone:            customer.String(0, core.ColPhone),
		Address:          customer.String(0, core.ColAddress),
		DetailAddress:    customer.String(0, core.ColDetailAddress),
		WorkplaceName:    customer.String(0, core.ColWorkplaceName),
		WorkplaceAddress: customer.String(0, core.ColWorkplaceAddress),
	}
	r.goSection(g, core.SectionDuplicatePersons, func() error {
		t, err := r.m.backend.QueryDuplicates(ctx, query)
		if err != nil {
			return err
		}
		r.m.bridge.Save(ctx, session.KeyDuplicates, t)
		r.render(SectionData{Section: core.SectionDuplicatePersons, Table: t, HighlightRow: -1})
		return nil
	})

	memberID := customer.String(0, core.ColMemberID)
	if memberID == "" || !period.Valid() {
		r.skip(core.SectionIPHistory, core.SectionOrderbook)
		_ = g.Wait()
		return
	}

	r.goSection(g, core.SectionIPHistory, func() error {
		t, err := r.m.backend.QueryIPHistory(ctx, memberID, window)
		if err != nil {
			return err
		}
		r.m.bridge.Save(ctx, session.KeyIPHistory, t)
		r.render(SectionData{Section: core.SectionIPHistory, Table: t, HighlightRow: -1, Period: period})
		return nil
	})

	if r.m.conns.IsConnected(session.SourceAnalytics) {
		r.goSection(g, core.SectionOrderbook, func() error {
			handle, err := r.m.backend.QueryOrderbook(ctx, memberID, window)
			if err != nil {
				return err
			}
			analysis, err := r.m.backend.AnalyzeOrderbook(ctx, handle.CacheKey)
			if err != nil {
				return err
			}
			r.m.bridge.Save(ctx, session.KeyOrderbook, analysis)
			r.render(SectionData{Section: core.SectionOrderbook, Table: analysis.Summary, HighlightRow: -1, Orderbook: analysis, Period: period})
			return nil
		})
	} else {
		r.skip(core.SectionOrderbook)
	}

	_ = g.Wait()
}

func (r *searchRun) local(ctx context.Context, alert *core.Table, derived core.DerivedAlertContext, period core.TransactionPeriod) {
	highlight := -1
	names := make(map[string]string)
	for i := range alert.Rows {
		if highlight < 0 && alert.String(i, core.ColAlertID) == r.alertID {
			highlight = i
		}
		id := strings.TrimSpace(alert.String(i, core.ColRuleID))
		if name := alert.String(i, core.ColRuleName); id != "" && name != "" && names[id] == "" {
			names[id] = name
		}
	}
	r.sectionDone(core.SectionAlertHistory, nil)
	r.render(SectionData{Section: core.SectionAlertHistory, Table: alert, HighlightRow: highlight, Period: period})

	objectives := r.m.catalog.ObjectivesTable(derived.CanonicalIDs)
	r.m.bridge.Save(ctx, session.KeyRuleObjectives, objectives)
	r.sectionDone(core.SectionObjectives, nil)
	r.render(SectionData{Section: core.SectionObjectives, Table: objectives, HighlightRow: -1})

	r.sectionDone(core.SectionRuleDescription, nil)
	r.render(SectionData{
		Section:      core.SectionRuleDescription,
		Table:        r.m.catalog.DescriptionTable(derived.CanonicalIDs, names),
		HighlightRow: -1,
	})
}

// goSection runs one fan-out branch. A branch never fails the group: its
// error or panic is logged and the section is marked failed.
func (r *searchRun) goSection(g *errgroup.Group, section core.Section, fn func() error) {
	start := time.Now()
	var once sync.Once
	finish := func(err error) {
		once.Do(func() { r.sectionDone(section, err) })
	}
	g.Go(goroutine.Settled("search-"+section.String(), r.m.logger, func() error {
		err := fn()
		if err == nil {
			finish(nil)
		}
		return err
	}, func(err error) {
		finish(err)
		r.m.logger.Warnw("Section fetch failed",
			"section", section,
			"alert_id", r.alertID,
			"duration", time.Since(start),
			"error", util.SanitizeError(err))
	}))
}

func (r *searchRun) sectionDone(section core.Section, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.outcome.Failed = append(r.outcome.Failed, section)
		metrics.Sections.WithLabelValues(section.String(), "failed").Inc()
		return
	}
	r.outcome.Rendered = append(r.outcome.Rendered, section)
	metrics.Sections.WithLabelValues(section.String(), "rendered").Inc()
}

func (r *searchRun) skip(sections ...core.Section) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sections {
		r.outcome.Skipped = append(r.outcome.Skipped, s)
		metrics.Sections.WithLabelValues(s.String(), "skipped").Inc()
	}
}

func (r *searchRun) render(data SectionData) {
	r.m.view.RenderSection(data)
}

func (r *searchRun) isCorporate(custType string) bool {
	_, ok := r.m.corpTypes[custType]
	return ok
}
