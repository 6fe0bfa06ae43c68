package render

import (
	"html/template"
	"sync"
	"time"

	"go.uber.org/zap"

	"strdash/core"
	"strdash/search"
	"strdash/session"
)

var (
	_ search.View     = (*Page)(nil)
	_ search.Notifier = (*Page)(nil)
)

// Event types pushed to listeners.
const (
	EventSearchStarted     = "search_started"
	EventSection           = "section"
	EventError             = "error"
	EventFinished          = "finished"
	EventBadge             = "badge"
	EventNotice            = "notice"
	EventConnectionRequest = "connection_required"
)

// Event describes one page change.
type Event struct {
	Type      string          `json:"type"`
	AlertID   string          `json:"alert_id,omitempty"`
	Section   core.Section    `json:"section,omitempty"`
	Title     string          `json:"title,omitempty"`
	HTML      template.HTML   `json:"html,omitempty"`
	Message   string          `json:"message,omitempty"`
	Source    session.Source  `json:"source,omitempty"`
	Connected bool            `json:"connected,omitempty"`
	Outcome   *search.Outcome `json:"outcome,omitempty"`
	Time      time.Time       `json:"time"`
}

// SectionView is a rendered section.
type SectionView struct {
	Section core.Section  `json:"section"`
	Title   string        `json:"title"`
	HTML    template.HTML `json:"html"`
	Rows    int           `json:"rows"`
}

// Badge is the status of one data source.
type Badge struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
}

// PageState is a snapshot of the page.
type PageState struct {
	AlertID     string                   `json:"alert_id,omitempty"`
	Loading     bool                     `json:"loading"`
	Error       string                   `json:"error,omitempty"`
	Notice      string                   `json:"notice,omitempty"`
	ExportReady bool                     `json:"export_ready"`
	Sections    []SectionView            `json:"sections"`
	Badges      map[session.Source]Badge `json:"badges"`
	Outcome     *search.Outcome          `json:"outcome,omitempty"`
}

// Page holds what one investigator's dashboard shows. It is the search
// view, the connection badge sink and the notifier of a workspace.
type Page struct {
	renderer *Renderer
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	alertID     string
	loading     bool
	errMsg      string
	notice      string
	exportReady bool
	sections    map[core.Section]SectionView
	badges      map[session.Source]Badge
	outcome     *search.Outcome
	listeners   []func(Event)
}

// NewPage creates an empty page.
func NewPage(renderer *Renderer, logger *zap.SugaredLogger) *Page {
	if renderer == nil {
		renderer = NewRenderer(nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Page{
		renderer: renderer,
		logger:   logger,
		sections: make(map[core.Section]SectionView),
		badges: map[session.Source]Badge{
			session.SourcePrimary:   {},
			session.SourceAnalytics: {},
		},
	}
}

// OnChange registers a listener called after every change. Listeners run
// synchronously and must not call back into the page.
func (p *Page) OnChange(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Page) emit(e Event) {
	e.Time = time.Now().UTC()
	p.mu.RLock()
	listeners := append([]func(Event){}, p.listeners...)
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// BeginSearch clears every section and shows the loading indicator.
func (p *Page) BeginSearch(alertID string) {
	p.mu.Lock()
	p.alertID = alertID
	p.loading = true
	p.errMsg = ""
	p.notice = ""
	p.exportReady = false
	p.outcome = nil
	p.sections = make(map[core.Section]SectionView)
	p.mu.Unlock()
	p.emit(Event{Type: EventSearchStarted, AlertID: alertID})
}

// RenderSection renders and stores one section. A render failure leaves
// the section out.
func (p *Page) RenderSection(d search.SectionData) {
	html, err := p.renderer.Section(d)
	if err != nil {
		p.logger.Warnw("Failed to render section", "section", d.Section, "error", err)
		return
	}
	view := SectionView{Section: d.Section, Title: d.Section.Title(), HTML: html}
	if d.Table != nil {
		view.Rows = len(d.Table.Rows)
	}

	p.mu.Lock()
	p.sections[d.Section] = view
	alertID := p.alertID
	p.mu.Unlock()
	p.emit(Event{Type: EventSection, AlertID: alertID, Section: d.Section, Title: view.Title, HTML: html})
}

// ShowError hides every section and shows message.
func (p *Page) ShowError(message string) {
	p.mu.Lock()
	p.sections = make(map[core.Section]SectionView)
	p.errMsg = message
	p.exportReady = false
	alertID := p.alertID
	p.mu.Unlock()
	p.emit(Event{Type: EventError, AlertID: alertID, Message: message})
}

// Finish hides the loading indicator and offers export on success.
func (p *Page) Finish(outcome *search.Outcome) {
	p.mu.Lock()
	p.loading = false
	p.exportReady = outcome.ExportReady()
	p.outcome = outcome
	p.mu.Unlock()
	p.emit(Event{Type: EventFinished, AlertID: outcome.AlertID, Outcome: outcome})
}

// SetBadge updates a data source badge.
func (p *Page) SetBadge(source session.Source, connected bool, message string) {
	p.mu.Lock()
	p.badges[source] = Badge{Connected: connected, Message: message}
	p.mu.Unlock()
	p.emit(Event{Type: EventBadge, Source: source, Connected: connected, Message: message})
}

// Notify shows a blocking message.
func (p *Page) Notify(message string) {
	p.mu.Lock()
	p.notice = message
	p.mu.Unlock()
	p.emit(Event{Type: EventNotice, Message: message})
}

// RequestConnection asks the investigator to connect a data source.
func (p *Page) RequestConnection(source session.Source) {
	p.emit(Event{Type: EventConnectionRequest, Source: source})
}

// Sections returns the rendered sections in display order.
func (p *Page) Sections() []SectionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orderedLocked()
}

func (p *Page) orderedLocked() []SectionView {
	out := make([]SectionView, 0, len(p.sections))
	for _, s := range core.SectionOrder {
		if v, ok := p.sections[s]; ok {
			out = append(out, v)
		}
	}
	return out
}

// State returns a snapshot of the page.
func (p *Page) State() PageState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	badges := make(map[session.Source]Badge, len(p.badges))
	for k, v := range p.badges {
		badges[k] = v
	}
	return PageState{
		AlertID:     p.alertID,
		Loading:     p.loading,
		Error:       p.errMsg,
		Notice:      p.notice,
		ExportReady: p.exportReady,
		Sections:    p.orderedLocked(),
		Badges:      badges,
		Outcome:     p.outcome,
	}
}
