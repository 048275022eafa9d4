// Package config assembles the obdstream runtime configuration from defaults,
// an optional YAML or JSON file and OBDSTREAM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/gateway"
	"github.com/c360/obdstream/history"
	"github.com/c360/obdstream/pipeline"
	"github.com/c360/obdstream/relay"
	"github.com/c360/obdstream/render"
	"github.com/c360/obdstream/stream"
)

// Config represents the complete application configuration
type Config struct {
	Stream  stream.Config  `mapstructure:"stream" json:"stream" yaml:"stream"`
	History history.Config `mapstructure:"history" json:"history" yaml:"history"`
	Render  RenderConfig   `mapstructure:"render" json:"render" yaml:"render"`
	Relay   RelayConfig    `mapstructure:"relay" json:"relay" yaml:"relay"`
	HTTP    gateway.Config `mapstructure:"http" json:"http" yaml:"http"`
	Metrics MetricsConfig  `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Log     LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
}

// RenderConfig selects the render cadence for throttled readings.
type RenderConfig struct {
	Profile     string        `mapstructure:"profile" json:"profile" yaml:"profile"`
	FramePeriod time.Duration `mapstructure:"frame_period" json:"frame_period" yaml:"frame_period"`
}

// RelayConfig controls forwarding of normalized frames to NATS.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" json:"url" yaml:"url"`
	Subject string `mapstructure:"subject" json:"subject" yaml:"subject"`
	Name    string `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" yaml:"addr"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// LogConfig controls logging output. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level" yaml:"level"`
	Format     string `mapstructure:"format" json:"format" yaml:"format"`
	File       string `mapstructure:"file" json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Stream:  stream.DefaultConfig(),
		History: history.DefaultConfig(),
		Render: RenderConfig{
			Profile:     string(render.ProfilePerformance),
			FramePeriod: render.DefaultFramePeriod,
		},
		Relay: RelayConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Subject: relay.DefaultSubject,
		},
		HTTP: gateway.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "stream")
	}
	if err := c.History.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "history")
	}
	if _, err := render.ParseProfile(c.Render.Profile); err != nil {
		return errors.Wrap(err, "Config", "Validate", "render")
	}
	if c.Render.FramePeriod < 0 {
		return invalid("render.frame_period cannot be negative")
	}

	if c.Relay.Enabled {
		if c.Relay.URL == "" {
			return invalid("relay.url is required when the relay is enabled")
		}
		if c.Relay.Subject == "" || strings.ContainsAny(c.Relay.Subject, " \t*>") {
			return invalid(fmt.Sprintf("relay.subject %q is not a valid publish subject", c.Relay.Subject))
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "http")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == c.HTTP.Addr {
		return invalid("metrics.addr and http.addr must differ")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}

	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check config")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	if c.HTTP.CORSOrigins != nil {
		clone.HTTP.CORSOrigins = append([]string(nil), c.HTTP.CORSOrigins...)
	}
	return &clone
}

// Pipeline returns the pipeline section of the configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Stream:      c.Stream,
		History:     c.History,
		Profile:     render.Profile(c.Render.Profile),
		FramePeriod: c.Render.FramePeriod,
	}
}
