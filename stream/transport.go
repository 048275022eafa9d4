package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/obdstream/errors"
)

// Conn is an open message stream.
type Conn interface {
	// ReadMessage blocks until the next message arrives or the connection
	// ends. It must return promptly once Close is called.
	ReadMessage() (string, error)
	Close() error
}

// Dialer opens connections. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketDialer dials websocket endpoints with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial connects to endpoint.
func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "WebSocketDialer", "Dial", "connect to "+endpoint)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// ReadMessage returns the next text or binary frame as a string; control
// frames are handled by gorilla.
func (c *wsConn) ReadMessage() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", errors.WrapTransient(errors.ErrConnectionLost, "Conn", "ReadMessage", "peer closed")
		}
		return "", errors.WrapTransient(err, "Conn", "ReadMessage", "read frame")
	}
	return string(data), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
