// Package clock abstracts the subset of package time used for deferred
// callbacks, so reconnect backoff and render throttling can be driven by a
// fake clock in tests.
package clock

import "time"

// Clock schedules deferred callbacks and reports the current time.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f on its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a callback scheduled with AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by package time.
func Real() Clock {
	return realClock{}
}

// Now indirects time.Now.
func (realClock) Now() time.Time {
	return time.Now()
}

// AfterFunc indirects time.AfterFunc.
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
