// Package clock provides an injectable time source.
//
// The window controller, rate limiter and QR store all make decisions
// against wall time; taking a Clock instead of calling time.Now lets
// tests pin the instant exactly (window boundaries, expiry edges).
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock pinned to a settable instant. Test use only.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the pinned instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
