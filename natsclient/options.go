package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/retry"
)

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithName sets the client name reported to the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts (-1 for infinite)
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("reconnect wait cannot be negative: %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout for a single connection attempt
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive: %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for buffered messages
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive: %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithConnectRetry sets the retry policy for the initial connection
func WithConnectRetry(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.connectRetry = cfg
		return nil
	}
}

// WithLogger sets a custom logger for the client
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithStatusCallback is called on every connection status change
func WithStatusCallback(fn func(ConnectionStatus)) ClientOption {
	return func(c *Client) error {
		c.onStatusChange = fn
		return nil
	}
}

// WithMetrics exports the connection state and the reconnect count on
// registrar
func WithMetrics(registrar metric.MetricsRegistrar) ClientOption {
	return func(c *Client) error {
		if registrar == nil {
			return nil
		}
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "obdstream",
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		})
		reconnects := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obdstream",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Times the NATS connection was re-established",
		})
		if err := registrar.RegisterGauge("natsclient", "connected", gauge); err != nil {
			return err
		}
		if err := registrar.RegisterCounter("natsclient", "reconnects_total", reconnects); err != nil {
			registrar.Unregister("natsclient", "connected")
			return err
		}
		c.onReconnect = reconnects.Inc

		prev := c.onStatusChange
		c.onStatusChange = func(s ConnectionStatus) {
			if s == StatusConnected {
				gauge.Set(1)
			} else {
				gauge.Set(0)
			}
			if prev != nil {
				prev(s)
			}
		}
		return nil
	}
}
