package stream

import (
	"context"
	"sync"

	"github.com/c360/obdstream/errors"
)

// fakeConn delivers messages pushed on msgs until closed.
type fakeConn struct {
	msgs   chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{
		msgs:   make(chan string, 16),
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		c.msgs <- m
	}
	return c
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return "", errors.ErrConnectionLost
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type dialOutcome struct {
	conn *fakeConn
	err  error
}

// fakeDialer replays scripted outcomes, then refuses every further dial.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	attempts int
}

func (d *fakeDialer) push(outcomes ...dialOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcomes...)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.outcomes) == 0 {
		return nil, errors.New("connection refused")
	}
	o := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	if o.err != nil {
		return nil, o.err
	}
	return o.conn, nil
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// recorder is a Handler that remembers every callback.
type recorder struct {
	mu       sync.Mutex
	events   []string
	messages []string
	errs     []error
}

func (r *recorder) OnOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "open")
}

func (r *recorder) OnMessage(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "message")
	r.messages = append(r.messages, raw)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recorder) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "close")
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
