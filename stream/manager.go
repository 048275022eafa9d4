// Package stream maintains one logical connection to a telemetry source,
// reconnecting with capped exponential backoff.
//
// Each Start launches a run: a single event-loop goroutine that owns the
// connection and invokes the Handler. Dialing and reading happen on helper
// goroutines that only post events to the loop, so handler callbacks are
// strictly serialized. Stop cancels the run and waits for the loop to exit.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/clock"
	"github.com/c360/obdstream/pkg/observable"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to schedule reconnects.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clock.OrReal(c)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records connection activity on mt.
func WithMetrics(mt *metric.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager owns the stream connection lifecycle.
type Manager struct {
	dialer  Dialer
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	lifecycle sync.Mutex // serializes Start and Stop

	mu     sync.Mutex
	status Status
	run    *run

	statusPub observable.Publisher[Status]
}

// NewManager creates an idle manager that opens connections through dialer.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer: dialer,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "stream")
	return m
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SubscribeStatus registers fn for every status transition.
func (m *Manager) SubscribeStatus(fn func(Status)) (unsubscribe func()) {
	return m.statusPub.Subscribe(fn)
}

// Start begins connecting with cfg and delivers events to h. It is a no-op
// while connecting or connected. After a terminal error it starts a fresh run
// with a reset retry budget. Invalid configuration is returned immediately
// and nothing is started.
func (m *Manager) Start(cfg Config, h Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if h == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil handler", errors.ErrMissingConfig),
			"Manager", "Start", "check handler")
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	prev := m.run
	state := m.status.State
	m.mu.Unlock()

	if prev != nil {
		if state != StateError {
			return nil
		}
		// the loop exits on its own after a terminal error
		prev.cancel()
		prev.wait()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		manager: m,
		cfg:     cfg,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event),
		done:    make(chan struct{}),
		session: uuid.NewString(),
	}
	r.logger = m.logger.With("session", r.session, "endpoint", cfg.Endpoint)

	m.mu.Lock()
	m.run = r
	m.mu.Unlock()

	m.setStatus(r, Status{State: StateConnecting, Session: r.session})
	r.logger.Info("Starting stream connection")

	go r.loop()
	return nil
}

// Stop cancels any pending reconnect, closes the connection and waits until no
// handler can run any more. It is idempotent.
func (m *Manager) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	r := m.run
	m.run = nil
	m.mu.Unlock()

	if r == nil {
		return nil
	}

	r.cancel()
	r.wait()

	m.publish(Status{State: StateIdle})
	r.logger.Info("Stream connection stopped")
	return nil
}

// setStatus applies st if r is still the active run.
func (m *Manager) setStatus(r *run, st Status) {
	m.mu.Lock()
	if m.run != r {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.publish(st)
}

func (m *Manager) publish(st Status) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()

	m.metrics.RecordConnectionState(int(st.State))
	m.statusPub.Publish(st)
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventDialFailed
	eventMessage
	eventClosed
	eventRetry
)

type event struct {
	kind eventKind
	conn Conn
	raw  string
	err  error
}

// run is one Start/Stop cycle.
type run struct {
	manager *Manager
	cfg     Config
	handler Handler
	logger  *slog.Logger
	session string

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
	wg     sync.WaitGroup // dial and read goroutines

	// owned by the loop goroutine
	conn    Conn
	timer   clock.Timer
	retries int
	lastErr error
}

func (r *run) wait() {
	<-r.done
	r.wg.Wait()
}

// send posts ev to the loop. It reports false once the run is cancelled.
func (r *run) send(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) loop() {
	defer close(r.done)
	defer r.cancel()
	defer r.teardown()

	r.dial()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			if r.ctx.Err() != nil {
				// cancelled while the event was in flight
				if ev.conn != nil {
					ev.conn.Close()
				}
				return
			}
			if terminal := r.handle(ev); terminal {
				return
			}
		}
	}
}

// handle processes one event and reports whether the run reached its
// terminal state.
func (r *run) handle(ev event) bool {
	m := r.manager

	switch ev.kind {
	case eventOpened:
		r.conn = ev.conn
		r.retries = 0
		r.lastErr = nil
		m.setStatus(r, Status{State: StateReady, Session: r.session})
		r.logger.Info("Stream connected")
		r.handler.OnOpen()
		r.read(ev.conn)

	case eventMessage:
		m.metrics.RecordMessageReceived()
		r.handler.OnMessage(ev.raw)

	case eventDialFailed:
		r.logger.Warn("Connection attempt failed", "retries", r.retries, "error", ev.err)
		r.handler.OnError(ev.err)
		return r.scheduleRetry(ev.err)

	case eventClosed:
		if r.conn != nil {
			r.conn.Close()
			r.conn = nil
		}
		r.logger.Warn("Stream connection closed", "error", ev.err)
		r.handler.OnClose()
		if ev.err != nil {
			r.handler.OnError(ev.err)
		}
		return r.scheduleRetry(ev.err)

	case eventRetry:
		r.timer = nil
		r.dial()
	}
	return false
}

// scheduleRetry arms the reconnect timer, or moves to the terminal error
// state when the budget is spent.
func (r *run) scheduleRetry(cause error) bool {
	m := r.manager
	backoff := r.cfg.Backoff()

	if cause != nil {
		r.lastErr = cause
		m.metrics.RecordConnectionError(errors.Classify(cause).String())
	}

	if backoff.Exhausted(r.retries) {
		err := errors.WrapFatal(errors.ErrMaxRetriesExceeded, "Manager", "scheduleRetry",
			fmt.Sprintf("reconnect after %d retries", r.retries))
		m.metrics.RecordRetriesExhausted()
		m.setStatus(r, Status{State: StateError, Terminal: true, Err: err, Retries: r.retries, Session: r.session})
		r.logger.Error("Reconnect budget exhausted", "retries", r.retries, "last_error", r.lastErr)
		r.handler.OnError(err)
		return true
	}

	delay := backoff.Delay(r.retries)
	r.retries++
	m.metrics.RecordReconnectScheduled(delay)
	m.setStatus(r, Status{State: StateConnecting, Err: r.lastErr, Retries: r.retries, Session: r.session})
	r.logger.Info("Reconnect scheduled", "attempt", r.retries, "delay", delay)

	r.timer = m.clock.AfterFunc(delay, func() {
		r.send(event{kind: eventRetry})
	})
	return false
}

func (r *run) dial() {
	r.manager.metrics.RecordConnectAttempt()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		conn, err := r.manager.dialer.Dial(r.ctx, r.cfg.Endpoint)
		if err != nil {
			r.send(event{kind: eventDialFailed, err: errors.WrapTransient(err, "Manager", "dial", "open stream")})
			return
		}
		if !r.send(event{kind: eventOpened, conn: conn}) {
			conn.Close()
		}
	}()
}

func (r *run) read(conn Conn) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		for {
			raw, err := conn.ReadMessage()
			if err != nil {
				if r.ctx.Err() == nil {
					r.send(event{kind: eventClosed, err: err})
				}
				return
			}
			if !r.send(event{kind: eventMessage, raw: raw}) {
				return
			}
		}
	}()
}

// teardown releases everything the loop owns. It runs on the loop goroutine.
func (r *run) teardown() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
