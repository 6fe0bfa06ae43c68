package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState string

const (
	// BreakerClosed means requests pass through normally
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means requests fail immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen means a limited number of probes are let through
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned when the breaker rejects a request
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is spent
	ErrTooManyProbes = errors.New("too many half-open probes")
	// ErrInvalidBreakerConfig is returned for an unusable configuration
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// MaxHalfOpenRequests is the number of concurrent probes when half-open
	MaxHalfOpenRequests uint32
}

// Validate checks if the configuration is usable
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the defaults used for backend endpoints
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker stops calling a backend endpoint that keeps failing.
// It never retries; callers see ErrBreakerOpen until the timeout elapses.
type CircuitBreaker struct {
	name         string
	config       BreakerConfig
	state        BreakerState
	failures     uint32
	lastFailTime time.Time
	halfOpenReqs uint32
	onChange     func(name string, from, to BreakerState)
	mu           sync.Mutex
}

// NewCircuitBreaker creates a breaker for the named endpoint
func NewCircuitBreaker(name string, config BreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  BreakerClosed,
	}, nil
}

// OnStateChange registers a hook called after every state transition.
// The hook runs with the breaker lock released.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Name returns the endpoint name the breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow checks if a request may proceed
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	var err error

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailTime) > cb.config.Timeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenReqs = 1
		} else {
			err = ErrBreakerOpen
		}
	case BreakerHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxHalfOpenRequests {
			err = ErrTooManyProbes
		} else {
			cb.halfOpenReqs++
		}
	}

	to, hook := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(hook, from, to)
	return err
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
		cb.halfOpenReqs = 0
	}
	to, hook := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(hook, from, to)
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.lastFailTime = time.Now()
	cb.failures++

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// A failed probe reopens the circuit
		cb.state = BreakerOpen
		cb.halfOpenReqs = 0
	}
	to, hook := cb.state, cb.onChange
	cb.mu.Unlock()
	cb.notify(hook, from, to)
}

// Execute runs fn through the breaker. Errors for which countable returns
// false (business failures, caller mistakes) do not trip the breaker.
func (cb *CircuitBreaker) Execute(fn func() error, countable func(error) bool) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = BreakerClosed
	cb.failures = 0
	cb.halfOpenReqs = 0
	hook := cb.onChange
	cb.mu.Unlock()
	cb.notify(hook, from, BreakerClosed)
}

func (cb *CircuitBreaker) notify(hook func(string, BreakerState, BreakerState), from, to BreakerState) {
	if hook != nil && from != to {
		hook(cb.name, from, to)
	}
}
