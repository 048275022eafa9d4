package gateway

import (
	"time"

	"github.com/c360/obdstream/errors"
)

// Config holds configuration for the HTTP gateway
type Config struct {
	// Addr is the listen address (default ":8090")
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `mapstructure:"enable_cors" json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// KeepAlive is the interval between SSE keep-alive comments (default: 15s)
	KeepAlive time.Duration `mapstructure:"keep_alive" json:"keep_alive" yaml:"keep_alive"`
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"addr cannot be empty")
	}

	if c.KeepAlive < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"keep_alive cannot be negative")
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 15 * time.Second
	}

	// CORS requires explicit origin configuration for security
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8090",
		EnableCORS:  false, // Disabled by default (requires explicit configuration)
		CORSOrigins: []string{},
		KeepAlive:   15 * time.Second,
	}
}
