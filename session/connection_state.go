package session

import (
	"fmt"
	"strings"
	"sync"
)

// Source names an external data source.
type Source string

const (
	// SourcePrimary is the Oracle alert database
	SourcePrimary Source = "primary"
	// SourceAnalytics is the Redshift trading database
	SourceAnalytics Source = "analytics"
)

// Label is the human name of the source.
func (s Source) Label() string {
	switch s {
	case SourcePrimary:
		return "Oracle"
	case SourceAnalytics:
		return "Redshift"
	default:
		return string(s)
	}
}

// ParseSource accepts the source names and their database aliases.
func ParseSource(v string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "primary", "oracle":
		return SourcePrimary, nil
	case "analytics", "redshift":
		return SourceAnalytics, nil
	default:
		return "", fmt.Errorf("unknown data source %q", v)
	}
}

// ConnectionStatus is a snapshot of both connection flags.
type ConnectionStatus struct {
	Primary   bool `json:"primary"`
	Analytics bool `json:"analytics"`
}

// ConnectionState tracks whether each data source is connected for the
// lifetime of a workspace. It is never persisted.
type ConnectionState struct {
	mu       sync.RWMutex
	status   ConnectionStatus
	onChange func(Source, bool)
}

// NewConnectionState starts from an explicit initial status.
func NewConnectionState(initial ConnectionStatus) *ConnectionState {
	return &ConnectionState{status: initial}
}

// OnChange registers a hook called after a flag changes value.
func (c *ConnectionState) OnChange(fn func(Source, bool)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Set records the outcome of a test or connect call.
func (c *ConnectionState) Set(source Source, connected bool) {
	c.mu.Lock()
	var changed bool
	switch source {
	case SourcePrimary:
		changed = c.status.Primary != connected
		c.status.Primary = connected
	case SourceAnalytics:
		changed = c.status.Analytics != connected
		c.status.Analytics = connected
	}
	hook := c.onChange
	c.mu.Unlock()

	if changed && hook != nil {
		hook(source, connected)
	}
}

// IsConnected reports the flag for source.
func (c *ConnectionState) IsConnected(source Source) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch source {
	case SourcePrimary:
		return c.status.Primary
	case SourceAnalytics:
		return c.status.Analytics
	default:
		return false
	}
}

// Snapshot returns both flags.
func (c *ConnectionState) Snapshot() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
