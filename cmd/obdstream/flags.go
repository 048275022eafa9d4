package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration. Empty values leave the loaded
// configuration untouched.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	LogFile         string
	Endpoint        string
	Profile         string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("OBDSTREAM_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: OBDSTREAM_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("OBDSTREAM_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: OBDSTREAM_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: OBDSTREAM_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: OBDSTREAM_LOG_FORMAT)")
	fs.StringVar(&cfg.LogFile, "log-file", "",
		"Write logs to this file with rotation instead of stderr (env: OBDSTREAM_LOG_FILE)")

	fs.StringVar(&cfg.Endpoint, "endpoint", "",
		"Telemetry websocket endpoint (env: OBDSTREAM_STREAM_ENDPOINT)")
	fs.StringVar(&cfg.Profile, "profile", "",
		"Power profile: performance, powersave (env: OBDSTREAM_RENDER_PROFILE)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("OBDSTREAM_DEBUG", false),
		"Enable debug logging (env: OBDSTREAM_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OBDSTREAM_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: OBDSTREAM_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration as YAML and exit")

	fs.Usage = func() {
		printDetailedHelp(fs.Output(), fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - real-time vehicle telemetry ingestion

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Connect to an adapter bridge with text logs
  %s --endpoint=ws://192.168.0.10:8765 --log-format=text

  # Run from a config file, overriding one key from the environment
  export OBDSTREAM_HISTORY_MAX_SAMPLES=480
  %s --config=/etc/obdstream/config.yaml

  # Show the effective configuration
  %s --print-config

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
