package render

import (
	"fmt"
	"html/template"
	"sort"

	"strdash/backend"
	"strdash/core"
	"strdash/search"
)

// CustomerRenderer renders the customer-centric sections.
type CustomerRenderer struct {
	Labels map[string]string
}

// Profile renders the first customer row as a field list.
func (c CustomerRenderer) Profile(t *core.Table) (template.HTML, error) {
	return Fields(t, 0, Options{Labels: c.Labels, Class: "customer-profile", EmptyText: "No customer profile"})
}

// Related renders corporate or person relations.
func (c CustomerRenderer) Related(t *core.Table) (template.HTML, error) {
	return Table(t, Options{Labels: c.Labels, EmptyText: "No related persons"})
}

// Duplicates renders duplicate-person matches.
func (c CustomerRenderer) Duplicates(t *core.Table) (template.HTML, error) {
	return Table(t, Options{
		Labels:    c.Labels,
		EmptyText: "No duplicate persons",
		Formatters: map[string]Formatter{
			core.ColMatchTypes: FormatText,
		},
	})
}

// IPHistory renders login IP history.
func (c CustomerRenderer) IPHistory(t *core.Table) (template.HTML, error) {
	return Table(t, Options{Labels: c.Labels, EmptyText: "No IP access history"})
}

// RuleRenderer renders alert and rule sections.
type RuleRenderer struct {
	Labels map[string]string
}

// AlertHistory renders the alert rows with the searched alert highlighted.
func (r RuleRenderer) AlertHistory(t *core.Table, highlight int) (template.HTML, error) {
	return Table(t, Options{
		Labels:    r.Labels,
		EmptyText: "No alert history",
		Highlight: func(row int) bool { return row == highlight },
	})
}

// History renders the rule history.
func (r RuleRenderer) History(t *core.Table) (template.HTML, error) {
	return Table(t, Options{Labels: r.Labels, EmptyText: "No rule history"})
}

// Objectives renders the rule objectives.
func (r RuleRenderer) Objectives(t *core.Table) (template.HTML, error) {
	return Table(t, Options{Labels: r.Labels, EmptyText: "No objectives for these rules"})
}

// Descriptions renders the rule descriptions.
func (r RuleRenderer) Descriptions(t *core.Table) (template.HTML, error) {
	return Table(t, Options{Labels: r.Labels, EmptyText: "No rule descriptions"})
}

// OrderbookRenderer renders the trading pattern analysis.
type OrderbookRenderer struct {
	Labels map[string]string
}

// Analysis renders the totals, summary and daily tables.
func (o OrderbookRenderer) Analysis(a *backend.OrderbookAnalysis) (template.HTML, error) {
	if a == nil {
		return Table(nil, Options{EmptyText: "No order book data"})
	}

	var out template.HTML
	if len(a.Totals) > 0 {
		keys := make([]string, 0, len(a.Totals))
		for k := range a.Totals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		totals := &core.Table{Columns: keys, Rows: [][]any{make([]any, len(keys))}}
		for i, k := range keys {
			totals.Rows[0][i] = a.Totals[k]
		}
		html, err := Fields(totals, 0, Options{Labels: o.Labels, Class: "orderbook-totals"})
		if err != nil {
			return "", err
		}
		out += html
	}

	summary, err := Table(a.Summary, Options{Labels: o.Labels, Class: "data-table orderbook-summary", EmptyText: "No trades in the period"})
	if err != nil {
		return "", err
	}
	out += summary

	if !a.Daily.Empty() {
		daily, err := Table(a.Daily, Options{Labels: o.Labels, Class: "data-table orderbook-daily"})
		if err != nil {
			return "", err
		}
		out += daily
	}
	return out, nil
}

// Renderer is the facade that maps a section to its sub-renderer.
type Renderer struct {
	Customer  CustomerRenderer
	Rule      RuleRenderer
	Orderbook OrderbookRenderer
}

// NewRenderer creates a renderer sharing one set of column labels.
func NewRenderer(labels map[string]string) *Renderer {
	return &Renderer{
		Customer:  CustomerRenderer{Labels: labels},
		Rule:      RuleRenderer{Labels: labels},
		Orderbook: OrderbookRenderer{Labels: labels},
	}
}

// Section renders one section.
func (r *Renderer) Section(d search.SectionData) (template.HTML, error) {
	switch d.Section {
	case core.SectionAlertHistory:
		return r.Rule.AlertHistory(d.Table, d.HighlightRow)
	case core.SectionRuleHistory:
		return r.Rule.History(d.Table)
	case core.SectionObjectives:
		return r.Rule.Objectives(d.Table)
	case core.SectionRuleDescription:
		return r.Rule.Descriptions(d.Table)
	case core.SectionCustomer:
		return r.Customer.Profile(d.Table)
	case core.SectionCorpRelated, core.SectionPersonRelated:
		return r.Customer.Related(d.Table)
	case core.SectionDuplicatePersons:
		return r.Customer.Duplicates(d.Table)
	case core.SectionIPHistory:
		return r.Customer.IPHistory(d.Table)
	case core.SectionOrderbook:
		return r.Orderbook.Analysis(d.Orderbook)
	default:
		return "", fmt.Errorf("unknown section %q", d.Section)
	}
}
