package stream

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/pkg/retry"
)

// Config configures the stream connection.
type Config struct {
	Endpoint         string        `json:"endpoint" mapstructure:"endpoint" yaml:"endpoint"`
	BaseDelay        time.Duration `json:"base_delay" mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay" mapstructure:"max_delay" yaml:"max_delay"`
	MaxRetries       int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "ws://localhost:8765",
		BaseDelay:        time.Second,
		MaxDelay:         15 * time.Second,
		MaxRetries:       5,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Backoff returns the reconnect schedule described by the config.
func (c Config) Backoff() retry.Backoff {
	return retry.Backoff{Base: c.BaseDelay, Max: c.MaxDelay, MaxRetries: c.MaxRetries}
}

// Validate checks the configuration. Errors are invalid-class and never retried.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"stream", "Validate", "parse endpoint")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: endpoint scheme must be ws or wss, got %q", errors.ErrInvalidConfig, u.Scheme),
			"stream", "Validate", "check endpoint")
	}
	if u.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: endpoint has no host", errors.ErrInvalidConfig),
			"stream", "Validate", "check endpoint")
	}
	if err := c.Backoff().Validate(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"stream", "Validate", "check backoff")
	}
	if c.HandshakeTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: handshake timeout cannot be negative", errors.ErrInvalidConfig),
			"stream", "Validate", "check handshake timeout")
	}
	return nil
}
