// Package clock abstracts time for stores with TTL semantics, so that
// expiration and eviction can be tested without sleeping.
package clock

import "time"

// Clock is an interface to abstract time-related functions.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the actual time.
type Real struct{}

// Now returns the current local time.
func (Real) Now() time.Time {
	return time.Now()
}

// Mock implements Clock for testing purposes.
type Mock struct {
	currentTime time.Time
}

// NewMock returns a Mock frozen at the given time.
func NewMock(t time.Time) *Mock {
	return &Mock{currentTime: t}
}

// Now returns the mocked current time.
func (mc *Mock) Now() time.Time {
	return mc.currentTime
}

// Advance moves the current time forward by the specified duration.
func (mc *Mock) Advance(d time.Duration) {
	mc.currentTime = mc.currentTime.Add(d)
}
