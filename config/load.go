package config

import (
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/c360/obdstream/errors"
)

// EnvPrefix prefixes environment overrides, e.g. OBDSTREAM_STREAM_ENDPOINT.
const EnvPrefix = "OBDSTREAM"

// Load builds the configuration from defaults, the file at path (skipped when
// empty) and environment overrides, in increasing precedence. The result is
// not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "decode config")
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("stream.endpoint", d.Stream.Endpoint)
	v.SetDefault("stream.base_delay", d.Stream.BaseDelay)
	v.SetDefault("stream.max_delay", d.Stream.MaxDelay)
	v.SetDefault("stream.max_retries", d.Stream.MaxRetries)
	v.SetDefault("stream.handshake_timeout", d.Stream.HandshakeTimeout)

	v.SetDefault("history.window", d.History.Window)
	v.SetDefault("history.max_samples", d.History.MaxSamples)

	v.SetDefault("render.profile", d.Render.Profile)
	v.SetDefault("render.frame_period", d.Render.FramePeriod)

	v.SetDefault("relay.enabled", d.Relay.Enabled)
	v.SetDefault("relay.url", d.Relay.URL)
	v.SetDefault("relay.subject", d.Relay.Subject)
	v.SetDefault("relay.name", d.Relay.Name)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.enable_cors", d.HTTP.EnableCORS)
	v.SetDefault("http.cors_origins", d.HTTP.CORSOrigins)
	v.SetDefault("http.keep_alive", d.HTTP.KeepAlive)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Marshal renders the configuration as YAML.
func Marshal(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Marshal", "encode yaml")
	}
	return data, nil
}
