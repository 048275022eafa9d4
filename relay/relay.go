// Package relay forwards normalized telemetry frames to a message bus.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/telemetry"
)

// DefaultSubject is the subject frames are published on when none is configured.
const DefaultSubject = "telemetry.frames"

// Publisher delivers a payload to a subject. natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// FramePublisher encodes frames as JSON and hands them to a Publisher.
type FramePublisher struct {
	pub     Publisher
	subject string
	logger  *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64

	publishedCounter prometheus.Counter
	failedCounter    prometheus.Counter
}

// Option configures a FramePublisher.
type Option func(*FramePublisher) error

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *FramePublisher) error {
		if l != nil {
			p.logger = l
		}
		return nil
	}
}

// WithMetrics registers published/failed counters on registrar.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(p *FramePublisher) error {
		if registrar == nil {
			return nil
		}
		published := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obdstream",
			Subsystem: "relay",
			Name:      "frames_published_total",
			Help:      "Frames published to the message bus",
		})
		failed := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "obdstream",
			Subsystem: "relay",
			Name:      "publish_errors_total",
			Help:      "Frames that failed to publish",
		})
		if err := registrar.RegisterCounter("relay", "frames_published_total", published); err != nil {
			return err
		}
		if err := registrar.RegisterCounter("relay", "publish_errors_total", failed); err != nil {
			registrar.Unregister("relay", "frames_published_total")
			return err
		}
		p.publishedCounter = published
		p.failedCounter = failed
		return nil
	}
}

// NewFramePublisher creates a relay for subject. An empty subject uses DefaultSubject.
func NewFramePublisher(pub Publisher, subject string, opts ...Option) (*FramePublisher, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FramePublisher", "New", "check publisher")
	}
	if subject == "" {
		subject = DefaultSubject
	}

	p := &FramePublisher{
		pub:     pub,
		subject: subject,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.WrapInvalid(err, "FramePublisher", "New", "apply option")
		}
	}
	p.logger = p.logger.With("component", "relay", "subject", subject)
	return p, nil
}

// Subject returns the destination subject.
func (p *FramePublisher) Subject() string {
	return p.subject
}

// PublishFrame encodes f and publishes it.
func (p *FramePublisher) PublishFrame(ctx context.Context, f telemetry.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		p.recordFailure()
		return errors.WrapInvalid(err, "FramePublisher", "PublishFrame", "encode frame")
	}

	if err := p.pub.Publish(ctx, p.subject, data); err != nil {
		p.recordFailure()
		return errors.WrapTransient(err, "FramePublisher", "PublishFrame", "publish frame")
	}

	p.published.Add(1)
	if p.publishedCounter != nil {
		p.publishedCounter.Inc()
	}
	return nil
}

// Stats returns the number of frames published and failed so far.
func (p *FramePublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

func (p *FramePublisher) recordFailure() {
	p.failed.Add(1)
	if p.failedCounter != nil {
		p.failedCounter.Inc()
	}
}
