// Package natsclient manages a NATS connection used to relay telemetry frames.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when publishing without an open connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client manages one NATS connection.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn

	// Connection options
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	connectRetry  retry.Config

	onStatusChange func(ConnectionStatus)
	onReconnect    func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty NATS url", errors.ErrMissingConfig),
			"Client", "NewClient", "check url")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1, // infinite by default
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		connectRetry:  retry.Quick(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient", "url", url)
	c.status.Store(StatusDisconnected)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.onStatusChange != nil {
		m.onStatusChange(status)
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
	}
	if m.name != "" {
		opts = append(opts, nats.Name(m.name))
	}
	return opts
}

// Connect establishes the connection, retrying transient failures with the
// configured retry policy.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Client", "Connect", "connect closed client")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS")

	opts := m.ConnectionOptions()
	err := retry.Do(ctx, m.connectRetry, func() error {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			m.logger.Debug("NATS connect attempt failed", "error", err)
			if isAuthError(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		m.setStatus(StatusDisconnected)
		if retry.IsNonRetryable(err) {
			return errors.WrapInvalid(err, "Client", "Connect", "authenticate")
		}
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	m.setStatus(StatusConnected)
	m.logger.Info("Connected to NATS")
	return nil
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Close drains and closes the connection. It is safe to call more than once.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var drainErr error
	if conn != nil {
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-time.After(m.drainTimeout):
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", m.drainTimeout),
				"Client", "Close", "drain timeout")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
		}

		if drainErr != nil {
			m.logger.Error("Drain failed, force closing", "error", drainErr)
		}
		conn.Close()
	}

	m.setStatus(StatusClosed)
	return drainErr
}

// isAuthError reports credential failures, which retrying cannot fix.
func isAuthError(err error) bool {
	return stderrors.Is(err, nats.ErrAuthorization) ||
		stderrors.Is(err, nats.ErrAuthExpired) ||
		stderrors.Is(err, nats.ErrAuthRevoked) ||
		stderrors.Is(err, nats.ErrAccountAuthExpired)
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	if m.onReconnect != nil {
		m.onReconnect()
	}
	m.setStatus(StatusConnected)
	m.logger.Info("NATS reconnected")
}

func (m *Client) handleClosed(_ *nats.Conn) {
	if m.Status() != StatusClosed {
		m.setStatus(StatusDisconnected)
	}
	m.logger.Debug("NATS connection closed")
}
