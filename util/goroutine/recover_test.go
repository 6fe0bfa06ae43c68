package goroutine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func TestRecover_NoPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	func() {
		defer Recover("test-goroutine", logger)
	}()
}

func TestRecover_StringPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("string-panic-goroutine", logger)
		panic("test panic message")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "string-panic-goroutine", fields["goroutine"])
	assert.Equal(t, "test panic message", fields["panic"])
	assert.Contains(t, fields["stack"], "goroutine")
}

func TestRecover_WithNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("nil-logger", nil)
		panic("boom")
	})
}

func TestSettled_AlwaysReturnsNil(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	var mu sync.Mutex
	var reported []error
	onErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}

	ran := make(chan struct{}, 1)
	var g errgroup.Group
	g.Go(Settled("fails", logger, func() error { return errors.New("customer fetch failed") }, onErr))
	g.Go(Settled("panics", logger, func() error { panic("renderer exploded") }, onErr))
	g.Go(Settled("succeeds", logger, func() error { ran <- struct{}{}; return nil }, onErr))

	require.NoError(t, g.Wait(), "settled branches never fail the group")
	assert.Len(t, ran, 1, "sibling still ran")
	assert.Len(t, reported, 2)
	assert.Equal(t, 1, logs.Len(), "only the panic is logged here")
}

func TestSettled_NilErrorHandler(t *testing.T) {
	fn := Settled("quiet", nil, func() error { return errors.New("ignored") }, nil)
	assert.NoError(t, fn())
}
