package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr to ensure panic is recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// Settled wraps fn for use with errgroup.Group.Go so that the branch
// always reports nil: errors go to onErr, panics are recovered and logged.
// A group made only of settled branches never cancels its siblings.
func Settled(name string, logger *zap.SugaredLogger, fn func() error, onErr func(error)) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				logPanic(name, r, logger)
				if onErr != nil {
					onErr(fmt.Errorf("panic in %s: %v", name, r))
				}
			}
		}()
		if err := fn(); err != nil && onErr != nil {
			onErr(err)
		}
		return nil
	}
}

func logPanic(name string, r any, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
