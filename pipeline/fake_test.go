package pipeline

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/stream"
)

type fakeConn struct {
	msgs   chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(msgs ...string) {
	for _, m := range msgs {
		c.msgs <- m
	}
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case <-c.closed:
		return "", errors.ErrConnectionLost
	default:
	}
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

// fakeDialer hands out queued connections and refuses dials once empty.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) add(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

// syncBuffer collects log output written from the manager goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}
