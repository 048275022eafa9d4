// Package pipeline wires the stream connection, normalizer, history store and
// render throttling into one telemetry ingestion pipeline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/health"
	"github.com/c360/obdstream/history"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/clock"
	"github.com/c360/obdstream/render"
	"github.com/c360/obdstream/stream"
	"github.com/c360/obdstream/telemetry"
)

// Parse and relay failures are logged at most this often; counters still see
// every failure.
const (
	errorLogInterval = time.Second
	errorLogBurst    = 5
)

// Config holds the pipeline settings.
type Config struct {
	Stream      stream.Config
	History     history.Config
	Profile     render.Profile
	FramePeriod time.Duration
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Stream:      stream.DefaultConfig(),
		History:     history.DefaultConfig(),
		Profile:     render.ProfilePerformance,
		FramePeriod: render.DefaultFramePeriod,
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	if c.Profile != "" {
		if _, err := render.ParseProfile(string(c.Profile)); err != nil {
			return err
		}
	}
	if c.FramePeriod < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative frame period %v", errors.ErrInvalidConfig, c.FramePeriod),
			"Config", "Validate", "check frame period")
	}
	return nil
}

// Pipeline is the telemetry ingestion pipeline.
type Pipeline struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics
	catalog *telemetry.Catalog
	relay   FrameRelay

	manager    *stream.Manager
	normalizer *telemetry.Normalizer
	store      *history.Store
	readings   *render.Decoupler[[]telemetry.Reading]

	errLog *rate.Limiter

	// ctx bounds relay publishes for the pipeline's lifetime.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	latest   telemetry.Frame
	hasFrame bool
	profile  render.Profile

	parseErrors atomic.Uint64
	relayErrors atomic.Uint64
	frames      atomic.Uint64
	relayFailed atomic.Bool
	closed      atomic.Bool
}

// New builds a pipeline that connects through dialer. Nothing runs until
// Start.
func New(cfg Config, dialer stream.Dialer, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil dialer", errors.ErrMissingConfig),
			"Pipeline", "New", "check dialer")
	}
	if cfg.Profile == "" {
		cfg.Profile = render.ProfilePerformance
	} else {
		cfg.Profile, _ = render.ParseProfile(string(cfg.Profile))
	}

	p := &Pipeline{
		cfg:     cfg,
		clock:   clock.Real(),
		logger:  slog.Default(),
		catalog: telemetry.DefaultCatalog(),
		errLog:  rate.NewLimiter(rate.Every(errorLogInterval), errorLogBurst),
		profile: cfg.Profile,
	}
	for _, opt := range opts {
		opt(p)
	}
	base := p.logger
	p.logger = base.With("component", "pipeline")
	p.ctx, p.cancel = context.WithCancel(context.Background())

	store, err := history.NewStore(cfg.History,
		history.WithLogger(base),
		history.WithMetrics(p.metrics))
	if err != nil {
		return nil, err
	}
	p.store = store

	p.normalizer = telemetry.NewNormalizer(p.clock)
	p.manager = stream.NewManager(dialer,
		stream.WithClock(p.clock),
		stream.WithLogger(base),
		stream.WithMetrics(p.metrics))
	p.readings = render.NewDecoupler[[]telemetry.Reading]("readings", []telemetry.Reading{}, cfg.Profile.Interval(),
		render.WithClock(p.clock),
		render.WithFrames(render.NewTickFrames(p.clock, cfg.FramePeriod)),
		render.WithMetrics(p.metrics))

	return p, nil
}

// Start connects to the configured endpoint. It is a no-op while the
// connection is starting or up, and fails once the pipeline is closed.
func (p *Pipeline) Start() error {
	if p.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Pipeline", "Start", "start closed pipeline")
	}
	before := p.manager.Status().Session
	if err := p.manager.Start(p.cfg.Stream, handler{p}); err != nil {
		return err
	}
	if p.manager.Status().Session == before {
		return nil
	}
	p.logger.Info("Pipeline started", "endpoint", p.cfg.Stream.Endpoint, "profile", p.Profile())
	return nil
}

// Stop closes the connection and drops any pending render commit. History is
// retained and recording is paused until the next successful open. Once Stop
// returns no store mutation or subscriber callback originates from the old
// connection.
func (p *Pipeline) Stop() error {
	err := p.manager.Stop()
	p.store.Pause()
	p.readings.Discard()
	p.logger.Info("Pipeline stopped")
	return err
}

// Close stops the pipeline and releases the render throttle. The pipeline
// cannot be restarted afterwards.
func (p *Pipeline) Close() error {
	p.closed.Store(true)
	err := p.Stop()
	p.cancel()
	p.readings.Close()
	return err
}

// Status returns the connection status.
func (p *Pipeline) Status() stream.Status {
	return p.manager.Status()
}

// SubscribeStatus registers fn for every status transition.
func (p *Pipeline) SubscribeStatus(fn func(stream.Status)) (unsubscribe func()) {
	return p.manager.SubscribeStatus(fn)
}

// Latest returns the most recent frame, if any.
func (p *Pipeline) Latest() (telemetry.Frame, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasFrame
}

// Readings returns the latest frame's known channels, sorted by name.
func (p *Pipeline) Readings() []telemetry.Reading {
	f, ok := p.Latest()
	if !ok {
		return []telemetry.Reading{}
	}
	return p.catalog.Readings(f)
}

// ThrottledReadings returns the last readings committed by the render throttle.
func (p *Pipeline) ThrottledReadings() []telemetry.Reading {
	return p.readings.Value()
}

// SubscribeReadings registers fn for every throttled readings commit.
func (p *Pipeline) SubscribeReadings(fn func([]telemetry.Reading)) (unsubscribe func()) {
	return p.readings.Subscribe(fn)
}

// History returns a copy of the samples recorded for key.
func (p *Pipeline) History(key telemetry.ChannelKey) []history.Sample {
	return p.store.History(key)
}

// SubscribeHistory registers fn for every store change.
func (p *Pipeline) SubscribeHistory(fn func(history.Change)) (unsubscribe func()) {
	return p.store.Subscribe(fn)
}

// Channels summarizes every recorded channel.
func (p *Pipeline) Channels() []history.ChannelInfo {
	return p.store.Channels()
}

// Merge joins the histories of a and b by timestamp.
func (p *Pipeline) Merge(a, b telemetry.ChannelKey) []history.Row {
	return history.Merge(p.store.History(a), p.store.History(b))
}

// ClearHistory drops all recorded samples.
func (p *Pipeline) ClearHistory() {
	p.store.Clear()
}

// Catalog returns the PID catalog used for readings.
func (p *Pipeline) Catalog() *telemetry.Catalog {
	return p.catalog
}

// Profile returns the active power profile.
func (p *Pipeline) Profile() render.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile
}

// SetProfile switches the render throttle to the named profile.
func (p *Pipeline) SetProfile(name string) error {
	profile, err := render.ParseProfile(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.profile = profile
	p.mu.Unlock()

	p.readings.SetInterval(profile.Interval())
	p.logger.Info("Power profile changed", "profile", profile, "interval", profile.Interval())
	return nil
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Frames      uint64 `json:"frames"`
	ParseErrors uint64 `json:"parse_errors"`
	RelayErrors uint64 `json:"relay_errors"`
	Recording   bool   `json:"recording"`
}

// ParseErrors returns how many payloads failed to normalize.
func (p *Pipeline) ParseErrors() uint64 {
	return p.parseErrors.Load()
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:      p.frames.Load(),
		ParseErrors: p.parseErrors.Load(),
		RelayErrors: p.relayErrors.Load(),
		Recording:   p.store.IsRecording(),
	}
}

// Health aggregates the stream, history and relay state. Only a terminal
// stream error makes the pipeline unhealthy.
func (p *Pipeline) Health() health.Status {
	st := p.Status()

	var conn health.Status
	switch {
	case st.State == stream.StateReady:
		conn = health.NewHealthy("stream", "connected")
	case st.Terminal:
		conn = health.FromError("stream", st.Err)
	case st.Err != nil:
		conn = health.NewDegraded("stream", fmt.Sprintf("%s: %s", st.State, health.Sanitize(st.Err)))
	default:
		conn = health.NewDegraded("stream", st.State.String())
	}
	conn = conn.WithMetrics(&health.Metrics{
		ErrorCount:        p.parseErrors.Load(),
		MessagesProcessed: p.frames.Load(),
	})

	rec := health.NewHealthy("history", "recording")
	if !p.store.IsRecording() {
		rec = health.NewDegraded("history", "paused")
	}

	subs := []health.Status{conn, rec}
	if p.relay != nil {
		rel := health.NewHealthy("relay", "publishing")
		if p.relayFailed.Load() {
			rel = health.NewDegraded("relay", "last publish failed")
		}
		subs = append(subs, rel.WithMetrics(&health.Metrics{ErrorCount: p.relayErrors.Load()}))
	}
	return health.Aggregate("pipeline", subs)
}

func (p *Pipeline) handleOpen() {
	p.store.Resume()
}

func (p *Pipeline) handleClose() {
	p.store.Pause()
}

func (p *Pipeline) handleMessage(raw string) {
	frame, err := p.normalizer.Normalize(raw)
	if err != nil {
		p.parseErrors.Add(1)
		p.metrics.RecordParseError()
		if p.errLog.Allow() {
			p.logger.Warn("Dropping malformed payload", "error", err)
		}
		return
	}

	p.frames.Add(1)
	p.store.RecordSamples(frame)

	p.mu.Lock()
	p.latest = frame
	p.hasFrame = true
	p.mu.Unlock()

	p.readings.Set(p.catalog.Readings(frame))

	if p.relay != nil {
		err := p.relay.PublishFrame(p.ctx, frame)
		p.relayFailed.Store(err != nil)
		if err != nil {
			p.relayErrors.Add(1)
			if p.errLog.Allow() {
				p.logger.Warn("Frame relay failed", "error", err)
			}
		}
	}
}

func (p *Pipeline) handleError(err error) {
	if errors.IsFatal(err) {
		p.logger.Error("Stream stopped", "error", err)
		return
	}
	p.logger.Debug("Stream error", "class", errors.Classify(err).String(), "error", err)
}

// handler keeps the stream callbacks off the exported API.
type handler struct {
	p *Pipeline
}

func (h handler) OnOpen()              { h.p.handleOpen() }
func (h handler) OnMessage(raw string) { h.p.handleMessage(raw) }
func (h handler) OnError(err error)    { h.p.handleError(err) }
func (h handler) OnClose()             { h.p.handleClose() }
