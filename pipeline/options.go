package pipeline

import (
	"context"
	"log/slog"

	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/clock"
	"github.com/c360/obdstream/telemetry"
)

// FrameRelay forwards normalized frames downstream. relay.FramePublisher
// satisfies it.
type FrameRelay interface {
	PublishFrame(ctx context.Context, f telemetry.Frame) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock shared by reconnects, receipt timestamps and
// render throttling.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clock.OrReal(c)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records pipeline activity on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithCatalog replaces the default PID catalog.
func WithCatalog(c *telemetry.Catalog) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.catalog = c
		}
	}
}

// WithRelay forwards every normalized frame to r.
func WithRelay(r FrameRelay) Option {
	return func(p *Pipeline) {
		p.relay = r
	}
}
