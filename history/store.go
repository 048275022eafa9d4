// Package history keeps a bounded, time-windowed numeric history per telemetry
// channel.
//
// A Store is fed one Frame at a time. Each numeric channel value becomes a
// Sample appended to that channel's series; after appending, samples older than
// the window (measured from the incoming frame's timestamp) and samples beyond
// the per-channel cap are evicted from the front. Channels absent from a frame
// are left untouched.
//
// Listeners are notified synchronously, in subscription order, once per call
// that changed anything. Reads return copies.
package history

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pkg/buffer"
	"github.com/c360/obdstream/pkg/observable"
	"github.com/c360/obdstream/telemetry"
)

// Sample is one numeric observation of a channel.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Config bounds the history kept per channel.
type Config struct {
	Window     time.Duration `json:"window" mapstructure:"window" yaml:"window"`
	MaxSamples int           `json:"max_samples" mapstructure:"max_samples" yaml:"max_samples"`
}

// DefaultConfig returns a 60 second window capped at 240 samples per channel.
func DefaultConfig() Config {
	return Config{
		Window:     60 * time.Second,
		MaxSamples: 240,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window < time.Millisecond {
		return errors.WrapInvalid(
			fmt.Errorf("%w: window must be at least 1ms, got %s", errors.ErrInvalidConfig, c.Window),
			"history", "Validate", "check window")
	}
	if c.MaxSamples <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max samples must be positive, got %d", errors.ErrInvalidConfig, c.MaxSamples),
			"history", "Validate", "check max samples")
	}
	return nil
}

// Change describes one change-producing Store call.
type Change struct {
	// Keys lists the channels that received samples, in key order.
	Keys []telemetry.ChannelKey
	// Cleared is set when the change came from Clear.
	Cleared bool
}

// ChannelInfo summarizes one channel's series.
type ChannelInfo struct {
	Key      telemetry.ChannelKey `json:"pid"`
	Len      int                  `json:"len"`
	Capacity int                  `json:"capacity"`
	Oldest   int64                `json:"oldest"`
	Newest   int64                `json:"newest"`
	Stats    buffer.StatsSummary  `json:"stats"`
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records store activity on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store is the windowed per-channel sample store.
type Store struct {
	cfg      Config
	windowMs int64
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu     sync.RWMutex
	series map[telemetry.ChannelKey]buffer.Buffer[Sample]
	paused bool

	listeners observable.Publisher[Change]
}

// NewStore creates an empty, recording Store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		windowMs: cfg.Window.Milliseconds(),
		logger:   slog.Default(),
		series:   make(map[telemetry.ChannelKey]buffer.Buffer[Sample]),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "history")
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// RecordSamples folds one frame into the store and returns how many samples
// were appended. Non-numeric channel values are skipped without affecting the
// other channels. While paused the frame is ignored entirely.
func (s *Store) RecordSamples(f telemetry.Frame) int {
	s.mu.Lock()

	if s.paused {
		s.mu.Unlock()
		s.metrics.RecordFramePaused()
		return 0
	}

	ts := f.Timestamp()
	cutoff := ts - s.windowMs

	var (
		touched []telemetry.ChannelKey
		evicted int
		created bool
		newErr  error
	)

	f.Range(func(key telemetry.ChannelKey, v telemetry.Value) bool {
		value, ok := v.Float()
		if !ok {
			return true
		}

		series, exists := s.series[key]
		if !exists {
			var err error
			series, err = s.newSeries()
			if err != nil {
				newErr = err
				return false
			}
			s.series[key] = series
			created = true
		}

		series.Write(Sample{Timestamp: ts, Value: value})
		evicted += evictBefore(series, cutoff)
		touched = append(touched, key)
		return true
	})

	channels := len(s.series)
	s.mu.Unlock()

	if newErr != nil {
		s.logger.Error("Failed to create series", "timestamp", ts, "error", newErr)
	}

	s.metrics.RecordSamples(len(touched))
	s.metrics.RecordEvicted("window", evicted)
	if created {
		s.metrics.RecordChannels(channels)
	}

	if len(touched) > 0 {
		s.listeners.Publish(Change{Keys: touched})
	}
	return len(touched)
}

func (s *Store) newSeries() (buffer.Buffer[Sample], error) {
	return buffer.NewCircularBuffer[Sample](s.cfg.MaxSamples,
		buffer.WithDropCallback[Sample](func(Sample) {
			s.metrics.RecordEvicted("capacity", 1)
		}),
	)
}

// evictBefore drops samples from the front while they are older than cutoff.
func evictBefore(series buffer.Buffer[Sample], cutoff int64) int {
	n := 0
	for {
		front, ok := series.Peek()
		if !ok || front.Timestamp >= cutoff {
			return n
		}
		series.Read()
		n++
	}
}

// History returns a copy of the samples for key, oldest first. Unknown keys
// yield an empty slice.
func (s *Store) History(key telemetry.ChannelKey) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[key]
	if !ok {
		return []Sample{}
	}
	return series.Snapshot()
}

// Channels summarizes every retained series, sorted by key.
func (s *Store) Channels() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(s.series))
	for key, series := range s.series {
		info := ChannelInfo{
			Key:      key,
			Len:      series.Size(),
			Capacity: series.Capacity(),
			Stats:    series.Stats().Summary(),
		}
		if snap := series.Snapshot(); len(snap) > 0 {
			info.Oldest = snap[0].Timestamp
			info.Newest = snap[len(snap)-1].Timestamp
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe registers fn to run after every change-producing call. The
// returned function removes the listener and is safe to call more than once.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.listeners.Subscribe(fn)
}

// Clear drops all series and counts their samples as evicted. Listeners are
// notified only if something was removed.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := len(s.series)
	samples := 0
	for _, series := range s.series {
		samples += series.Clear()
	}
	if removed > 0 {
		s.series = make(map[telemetry.ChannelKey]buffer.Buffer[Sample])
	}
	s.mu.Unlock()

	if removed == 0 {
		return
	}
	s.metrics.RecordEvicted("clear", samples)
	s.metrics.RecordChannels(0)
	s.logger.Debug("History cleared", "channels", removed, "samples", samples)
	s.listeners.Publish(Change{Cleared: true})
}

// Pause stops recording. Frames passed to RecordSamples while paused are
// dropped and never backfilled.
func (s *Store) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume restarts recording.
func (s *Store) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// IsRecording reports whether the store accepts frames.
func (s *Store) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.paused
}
