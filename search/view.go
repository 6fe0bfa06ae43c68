package search

import (
	"strdash/backend"
	"strdash/core"
	"strdash/session"
)

// SectionData is the plain data handed to the view for one section.
type SectionData struct {
	Section core.Section `json:"section"`
	Table   *core.Table  `json:"table,omitempty"`
	// HighlightRow is the index of the row to emphasise, or -1.
	HighlightRow int                        `json:"highlight_row"`
	Orderbook    *backend.OrderbookAnalysis `json:"orderbook,omitempty"`
	Period       core.TransactionPeriod     `json:"period"`
}

// View receives render callbacks keyed by section. RenderSection is called
// from concurrent fan-out branches and must be safe for concurrent use.
type View interface {
	// BeginSearch shows the loading indicator and hides and clears every
	// section.
	BeginSearch(alertID string)
	RenderSection(data SectionData)
	// ShowError hides every section and shows a single error message.
	ShowError(message string)
	// Finish hides the loading indicator. Export is offered when the
	// outcome succeeded.
	Finish(outcome *Outcome)
}

// Notifier carries the blocking messages of rejected searches.
type Notifier interface {
	Notify(message string)
	RequestConnection(source session.Source)
}

type nopView struct{}

func (nopView) BeginSearch(string)        {}
func (nopView) RenderSection(SectionData) {}
func (nopView) ShowError(string)          {}
func (nopView) Finish(*Outcome)           {}

type nopNotifier struct{}

func (nopNotifier) Notify(string)                    {}
func (nopNotifier) RequestConnection(session.Source) {}
