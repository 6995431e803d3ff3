// Package clock abstracts time so that TTL caches, lock timeouts, and
// the writeback cache's age-based flush triggers can be driven by a
// fake clock in tests instead of wall time.
package clock

import "time"

// Clock is the time source used throughout the engine.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is backed by the system clock.
type RealClock struct{}

var _ Clock = RealClock{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
