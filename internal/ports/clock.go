package ports

import "time"

// Clock is the injectable time source. The engine's time reads, its decision
// tick and the suppressor's TTLs go through a Clock so they can be exercised
// deterministically in tests. The stream adapter's reconnect backoff and
// quiescent delay, and the engine's stop and snapshot timeouts, wait on the
// wall clock directly.
type Clock interface {
	// Now returns the current time (UTC).
	Now() time.Time
	// After returns a channel that delivers one value once d has elapsed.
	After(d time.Duration) <-chan time.Time
}
