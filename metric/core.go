package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "obdstream"

// Metrics contains the pipeline-level metrics shared by all components.
// Every Record method is safe on a nil receiver so components can run without
// a registry.
type Metrics struct {
	// Connection metrics
	ConnectionState  prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	Reconnects       prometheus.Counter
	RetriesExhausted prometheus.Counter
	MessagesReceived prometheus.Counter
	ParseErrors      prometheus.Counter
	ConnectionErrors *prometheus.CounterVec
	ReconnectDelay   prometheus.Histogram

	// History metrics
	SamplesRecorded prometheus.Counter
	SamplesEvicted  *prometheus.CounterVec
	FramesPaused    prometheus.Counter
	Channels        prometheus.Gauge

	// Render metrics
	Commits   *prometheus.CounterVec
	Coalesced *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "Connection state (0=idle, 1=connecting, 2=ready, 3=error)",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of scheduled reconnects",
		}),
		RetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "retries_exhausted_total",
			Help:      "Number of times the reconnect budget ran out",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_received_total",
			Help:      "Total number of raw messages received",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "parse_errors_total",
			Help:      "Messages that could not be normalized into a frame",
		}),
		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Connection errors by class",
		}, []string{"class"}),
		ReconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_delay_seconds",
			Help:      "Scheduled reconnect delays",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),

		SamplesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "samples_recorded_total",
			Help:      "Total number of samples appended to history",
		}),
		SamplesEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "samples_evicted_total",
			Help:      "Samples evicted from history by reason",
		}, []string{"reason"}),
		FramesPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "frames_dropped_paused_total",
			Help:      "Frames ignored because recording was paused",
		}),
		Channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "channels",
			Help:      "Number of channels with retained history",
		}),

		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "commits_total",
			Help:      "Values committed to observers per decoupler",
		}, []string{"name"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "coalesced_total",
			Help:      "Values superseded before they were committed",
		}, []string{"name"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionState,
		c.ConnectAttempts,
		c.Reconnects,
		c.RetriesExhausted,
		c.MessagesReceived,
		c.ParseErrors,
		c.ConnectionErrors,
		c.ReconnectDelay,
		c.SamplesRecorded,
		c.SamplesEvicted,
		c.FramesPaused,
		c.Channels,
		c.Commits,
		c.Coalesced,
	}
}

// RecordConnectionState updates the connection state gauge
func (c *Metrics) RecordConnectionState(state int) {
	if c == nil {
		return
	}
	c.ConnectionState.Set(float64(state))
}

// RecordConnectAttempt increments the attempt counter
func (c *Metrics) RecordConnectAttempt() {
	if c == nil {
		return
	}
	c.ConnectAttempts.Inc()
}

// RecordReconnectScheduled counts a scheduled reconnect and observes its delay
func (c *Metrics) RecordReconnectScheduled(delay time.Duration) {
	if c == nil {
		return
	}
	c.Reconnects.Inc()
	c.ReconnectDelay.Observe(delay.Seconds())
}

// RecordRetriesExhausted increments the exhausted counter
func (c *Metrics) RecordRetriesExhausted() {
	if c == nil {
		return
	}
	c.RetriesExhausted.Inc()
}

// RecordMessageReceived increments the received message counter
func (c *Metrics) RecordMessageReceived() {
	if c == nil {
		return
	}
	c.MessagesReceived.Inc()
}

// RecordParseError increments the parse error counter
func (c *Metrics) RecordParseError() {
	if c == nil {
		return
	}
	c.ParseErrors.Inc()
}

// RecordConnectionError increments the error counter for the given class
func (c *Metrics) RecordConnectionError(class string) {
	if c == nil {
		return
	}
	c.ConnectionErrors.WithLabelValues(class).Inc()
}

// RecordSamples adds recorded samples
func (c *Metrics) RecordSamples(n int) {
	if c == nil || n == 0 {
		return
	}
	c.SamplesRecorded.Add(float64(n))
}

// RecordEvicted adds evicted samples for the reason ("window", "capacity" or "clear")
func (c *Metrics) RecordEvicted(reason string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.SamplesEvicted.WithLabelValues(reason).Add(float64(n))
}

// RecordFramePaused counts a frame ignored while paused
func (c *Metrics) RecordFramePaused() {
	if c == nil {
		return
	}
	c.FramesPaused.Inc()
}

// RecordChannels updates the retained channel gauge
func (c *Metrics) RecordChannels(n int) {
	if c == nil {
		return
	}
	c.Channels.Set(float64(n))
}

// RecordCommit increments the commit counter for a decoupler
func (c *Metrics) RecordCommit(name string) {
	if c == nil {
		return
	}
	c.Commits.WithLabelValues(name).Inc()
}

// RecordCoalesced increments the superseded value counter for a decoupler
func (c *Metrics) RecordCoalesced(name string) {
	if c == nil {
		return
	}
	c.Coalesced.WithLabelValues(name).Inc()
}
