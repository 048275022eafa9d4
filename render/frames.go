// Package render throttles how often fast-changing values reach consumers.
//
// A Decoupler debounces inputs for an interval and then commits the latest
// value on the next frame boundary, so consumers redraw at most once per
// interval and in step with a fixed frame cadence.
package render

import (
	"time"

	"github.com/c360/obdstream/pkg/clock"
)

// DefaultFramePeriod approximates a 60 Hz paint cadence.
const DefaultFramePeriod = 16 * time.Millisecond

// FrameScheduler runs a callback at the next frame boundary.
type FrameScheduler interface {
	// RequestFrame schedules fn and returns a function cancelling it. Calling
	// cancel after fn ran is harmless.
	RequestFrame(fn func()) (cancel func())
}

// TickFrames aligns callbacks to multiples of a fixed period on a clock.
type TickFrames struct {
	clock  clock.Clock
	period time.Duration
}

// NewTickFrames creates a frame scheduler. A nil clock means wall time and a
// non-positive period means DefaultFramePeriod.
func NewTickFrames(c clock.Clock, period time.Duration) *TickFrames {
	if period <= 0 {
		period = DefaultFramePeriod
	}
	return &TickFrames{clock: clock.OrReal(c), period: period}
}

// Period returns the frame period.
func (f *TickFrames) Period() time.Duration {
	return f.period
}

// RequestFrame schedules fn on the next boundary strictly after now.
func (f *TickFrames) RequestFrame(fn func()) func() {
	now := f.clock.Now()
	next := now.Truncate(f.period).Add(f.period)
	t := f.clock.AfterFunc(next.Sub(now), fn)
	return func() { t.Stop() }
}
