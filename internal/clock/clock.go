// Package clock abstracts time for testability. Production code injects
// Real(); tests inject a Fake with deterministic time control.
package clock

import "time"

type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a ticker channel firing at the given interval,
	// and a stop function. Panics if d <= 0.
	NewTicker(d time.Duration) (<-chan time.Time, func())
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}
