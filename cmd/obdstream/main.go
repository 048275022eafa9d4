// Package main runs the obdstream telemetry pipeline with its HTTP API and
// Prometheus endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/obdstream/config"
	gatewayhttp "github.com/c360/obdstream/gateway/http"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/natsclient"
	"github.com/c360/obdstream/pipeline"
	"github.com/c360/obdstream/relay"
	"github.com/c360/obdstream/stream"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "obdstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cli, err := parseFlags(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp(stdout, fs)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	if cli.PrintConfig {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}

	logger, closer := setupLogger(cfg.Log, stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting obdstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"endpoint", cfg.Stream.Endpoint)

	return serve(ctx, cfg, cli.ShutdownTimeout, logger)
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Log.File = cli.LogFile
	}
	if cli.Endpoint != "" {
		cfg.Stream.Endpoint = cli.Endpoint
	}
	if cli.Profile != "" {
		cfg.Render.Profile = cli.Profile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve runs the pipeline and its servers until ctx ends or a server fails.
func serve(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(registry.CoreMetrics()),
	}

	if cfg.Relay.Enabled {
		nc, err := connectRelay(ctx, cfg.Relay, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := nc.Close(closeCtx); err != nil {
				logger.Warn("Closing NATS connection failed", "error", err)
			}
		}()

		pub, err := relay.NewFramePublisher(nc, cfg.Relay.Subject,
			relay.WithLogger(logger), relay.WithMetrics(registry))
		if err != nil {
			return fmt.Errorf("create relay: %w", err)
		}
		opts = append(opts, pipeline.WithRelay(pub))
	}

	dialer := stream.WebSocketDialer{HandshakeTimeout: cfg.Stream.HandshakeTimeout}
	p, err := pipeline.New(cfg.Pipeline(), dialer, opts...)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	gw, err := gatewayhttp.NewGateway(cfg.HTTP, p,
		gatewayhttp.WithLogger(logger), gatewayhttp.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
	}

	if err := p.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(gw.Start)
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("Metrics server listening", "address", metricsServer.Address())
			return metricsServer.Start()
		})
	}

	logger.Info("obdstream started", "http", cfg.HTTP.Addr)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := p.Close(); err != nil {
			logger.Error("Stopping pipeline failed", "error", err)
		}
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Error("Stopping HTTP gateway failed", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Error("Stopping metrics server failed", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("obdstream shutdown complete")
	return nil
}

func connectRelay(
	ctx context.Context,
	cfg config.RelayConfig,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	name := cfg.Name
	if name == "" {
		name = appName
	}
	nc, err := natsclient.NewClient(cfg.URL,
		natsclient.WithName(name),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := nc.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}
