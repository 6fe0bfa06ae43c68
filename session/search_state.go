package session

import (
	"sync"
	"time"

	"strdash/core"
)

// SearchState owns the dataset of the alert currently loaded in one
// investigator's workspace. Writes come only from the search that holds
// the Begin guard.
type SearchState struct {
	mu        sync.RWMutex
	searching bool
	alertID   string
	alert     *core.Table
	derived   core.DerivedAlertContext
	period    core.TransactionPeriod
	customer  *core.Table
	updatedAt time.Time
}

// SearchSnapshot is a read-only copy of SearchState.
type SearchSnapshot struct {
	AlertID   string                   `json:"alert_id,omitempty"`
	Searching bool                     `json:"searching"`
	Alert     *core.Table              `json:"alert,omitempty"`
	Derived   core.DerivedAlertContext `json:"derived"`
	Period    core.TransactionPeriod   `json:"period"`
	Customer  *core.Table              `json:"customer,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// NewSearchState returns an empty, idle state.
func NewSearchState() *SearchState {
	return &SearchState{derived: core.DerivedAlertContext{CanonicalIDs: []string{}}}
}

// Begin marks a search in flight. It returns false, changing nothing,
// when a search is already running.
func (s *SearchState) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searching {
		return false
	}
	s.searching = true
	return true
}

// End clears the in-flight flag.
func (s *SearchState) End() {
	s.mu.Lock()
	s.searching = false
	s.mu.Unlock()
}

// IsSearching reports whether a search is in flight.
func (s *SearchState) IsSearching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searching
}

// Reset discards all loaded and derived data. The in-flight flag is left
// alone.
func (s *SearchState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertID = ""
	s.alert = nil
	s.derived = core.DerivedAlertContext{CanonicalIDs: []string{}}
	s.period = core.TransactionPeriod{}
	s.customer = nil
	s.updatedAt = time.Now()
}

// Load stores the primary alert rows and what was derived from them.
func (s *SearchState) Load(alertID string, alert *core.Table, derived core.DerivedAlertContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertID = alertID
	s.alert = alert
	s.derived = derived
	s.updatedAt = time.Now()
}

// SetPeriod stores the investigation window.
func (s *SearchState) SetPeriod(p core.TransactionPeriod) {
	s.mu.Lock()
	s.period = p
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// SetCustomer stores the customer profile.
func (s *SearchState) SetCustomer(t *core.Table) {
	s.mu.Lock()
	s.customer = t
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// HasData reports whether alert rows are loaded.
func (s *SearchState) HasData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.alert.Empty()
}

// AlertID returns the loaded alert id.
func (s *SearchState) AlertID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertID
}

// IsLoaded reports whether alertID is the alert currently loaded.
func (s *SearchState) IsLoaded(alertID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.alert.Empty() && s.alertID == alertID
}

// Snapshot returns a deep copy safe to hand to renderers.
func (s *SearchState) Snapshot() SearchSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	derived := s.derived
	derived.CanonicalIDs = append([]string{}, s.derived.CanonicalIDs...)
	return SearchSnapshot{
		AlertID:   s.alertID,
		Searching: s.searching,
		Alert:     s.alert.Clone(),
		Derived:   derived,
		Period:    s.period,
		Customer:  s.customer.Clone(),
		UpdatedAt: s.updatedAt,
	}
}
