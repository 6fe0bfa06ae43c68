package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker("test", BreakerConfig{
		MaxFailures:         maxFailures,
		Timeout:             timeout,
		MaxHalfOpenRequests: 1,
	})
	require.NoError(t, err)
	return cb
}

func TestCircuitBreakerBasicFlow(t *testing.T) {
	cb := newTestBreaker(t, 3, 50*time.Millisecond)
	assert.Equal(t, BreakerClosed, cb.State())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State(), "below threshold")

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrBreakerOpen)

	assert.Eventually(t, func() bool { return cb.Allow() == nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyProbes, "one probe at a time")

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Failures())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(t, 1, 20*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())

	require.Eventually(t, func() bool { return cb.Allow() == nil }, time.Second, 5*time.Millisecond)
	cb.RecordFailure()

	assert.Equal(t, BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrBreakerOpen)
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := newTestBreaker(t, 3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, uint32(2), cb.Failures())
}

func TestCircuitBreakerExecute(t *testing.T) {
	errTransport := errors.New("connection refused")
	errBusiness := errors.New("alert not found")
	countable := func(err error) bool { return errors.Is(err, errTransport) }

	cb := newTestBreaker(t, 2, time.Minute)

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return errBusiness }, countable)
		assert.ErrorIs(t, err, errBusiness)
	}
	assert.Equal(t, BreakerClosed, cb.State(), "business failures never trip the breaker")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errTransport }, countable)
	}
	assert.Equal(t, BreakerOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil }, countable)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestCircuitBreakerStateChangeHook(t *testing.T) {
	cb := newTestBreaker(t, 1, time.Minute)

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(name string, from, to BreakerState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+string(from)+"->"+string(to))
	})

	cb.RecordFailure()
	cb.Reset()
	cb.Reset()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"test:closed->open", "test:open->closed"}, transitions)
}

func TestCircuitBreakerInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config BreakerConfig
	}{
		{"zero failures", BreakerConfig{Timeout: time.Second, MaxHalfOpenRequests: 1}},
		{"zero timeout", BreakerConfig{MaxFailures: 1, MaxHalfOpenRequests: 1}},
		{"zero probes", BreakerConfig{MaxFailures: 1, Timeout: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := NewCircuitBreaker("x", tt.config)
			assert.Nil(t, cb)
			assert.ErrorIs(t, err, ErrInvalidBreakerConfig)
		})
	}
}

func TestCircuitBreakerConcurrentUse(t *testing.T) {
	cb := newTestBreaker(t, 1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				cb.RecordFailure()
			} else {
				_ = cb.Allow()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint32(25), cb.Failures())
}
