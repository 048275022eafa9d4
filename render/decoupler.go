package render

import (
	"sync"
	"time"

	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/clock"
	"github.com/c360/obdstream/pkg/observable"
)

// Option configures a Decoupler.
type Option func(*options)

type options struct {
	clock   clock.Clock
	frames  FrameScheduler
	metrics *metric.Metrics
}

// WithClock sets the clock driving the debounce timer. Unless WithFrames is
// also given, frames are aligned on the same clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithFrames sets the frame scheduler.
func WithFrames(f FrameScheduler) Option {
	return func(o *options) {
		o.frames = f
	}
}

// WithMetrics counts commits and superseded values.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Decoupler is the throttled projection of a value.
//
// Every Set restarts the interval timer. When it fires, the latest value is
// committed at the next frame boundary and published to subscribers exactly
// once. Bursts therefore collapse to their last value. A non-positive interval
// makes Set commit synchronously.
type Decoupler[T any] struct {
	name    string
	clock   clock.Clock
	frames  FrameScheduler
	metrics *metric.Metrics

	mu          sync.Mutex
	interval    time.Duration
	value       T
	pending     T
	hasPending  bool
	gen         uint64
	timer       clock.Timer
	cancelFrame func()
	closed      bool

	pub observable.Publisher[T]
}

// NewDecoupler creates a decoupler holding initial as its committed value.
func NewDecoupler[T any](name string, initial T, interval time.Duration, opts ...Option) *Decoupler[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.clock = clock.OrReal(o.clock)
	if o.frames == nil {
		o.frames = NewTickFrames(o.clock, DefaultFramePeriod)
	}

	return &Decoupler[T]{
		name:     name,
		clock:    o.clock,
		frames:   o.frames,
		metrics:  o.metrics,
		interval: interval,
		value:    initial,
	}
}

// Value returns the last committed value.
func (d *Decoupler[T]) Value() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Interval returns the current interval.
func (d *Decoupler[T]) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// Subscribe registers fn for every commit.
func (d *Decoupler[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return d.pub.Subscribe(fn)
}

// Set offers a new input value.
func (d *Decoupler[T]) Set(v T) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	if d.interval <= 0 {
		d.cancelLocked()
		d.hasPending = false
		d.value = v
		d.mu.Unlock()
		d.publish(v)
		return
	}

	if d.hasPending {
		d.metrics.RecordCoalesced(d.name)
	}
	d.pending = v
	d.hasPending = true
	d.armLocked()
	d.mu.Unlock()
}

// SetInterval changes the interval. A pending value restarts its wait under
// the new interval, or is committed immediately when the new interval is not
// positive.
func (d *Decoupler[T]) SetInterval(interval time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.interval = interval

	if !d.hasPending {
		d.mu.Unlock()
		return
	}

	if interval > 0 {
		d.armLocked()
		d.mu.Unlock()
		return
	}

	d.cancelLocked()
	v := d.pending
	d.value = v
	d.clearPendingLocked()
	d.mu.Unlock()
	d.publish(v)
}

// Discard drops a pending value and cancels its timer and frame callback.
// The committed value is kept and later Set calls are accepted.
func (d *Decoupler[T]) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.clearPendingLocked()
}

// Close cancels any pending commit. Later Set calls are ignored.
func (d *Decoupler[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.cancelLocked()
	d.clearPendingLocked()
}

// armLocked supersedes any scheduled work and starts a fresh interval timer.
func (d *Decoupler[T]) armLocked() {
	d.cancelLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.interval, func() { d.onTimer(gen) })
}

// cancelLocked stops the timer and frame callback and invalidates any
// callback already running.
func (d *Decoupler[T]) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancelFrame != nil {
		d.cancelFrame()
		d.cancelFrame = nil
	}
}

func (d *Decoupler[T]) clearPendingLocked() {
	var zero T
	d.pending = zero
	d.hasPending = false
}

func (d *Decoupler[T]) onTimer(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || gen != d.gen {
		return
	}
	d.timer = nil
	d.cancelFrame = d.frames.RequestFrame(func() { d.commit(gen) })
}

func (d *Decoupler[T]) commit(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || !d.hasPending {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.value = v
	d.clearPendingLocked()
	d.cancelFrame = nil
	d.mu.Unlock()

	d.publish(v)
}

func (d *Decoupler[T]) publish(v T) {
	d.metrics.RecordCommit(d.name)
	d.pub.Publish(v)
}
