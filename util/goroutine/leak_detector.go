package goroutine

import (
	"testing"

	"go.uber.org/goleak"
)

// LeakOptions ignores long-lived goroutines owned by libraries rather
// than by the code under test.
var LeakOptions = []goleak.Option{
	goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
}

// AssertNoLeaks registers a cleanup that fails the test when goroutines
// started after this call are still running once the test finishes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    goroutine.AssertNoLeaks(t)
//	    // ... test code that launches goroutines ...
//	}
func AssertNoLeaks(t *testing.T, opts ...goleak.Option) {
	t.Helper()
	opts = append(append([]goleak.Option{goleak.IgnoreCurrent()}, LeakOptions...), opts...)
	t.Cleanup(func() {
		goleak.VerifyNone(t, opts...)
	})
}
