package metric

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/obdstream/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordConnectAttempt()
	registry.CoreMetrics().RecordEvicted("window", 3)

	names := gatheredNames(t, registry)
	assert.True(t, names["obdstream_stream_connect_attempts_total"])
	assert.True(t, names["obdstream_history_samples_evicted_total"])
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("relay", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("relay", "dup_gauge", gauge))

	err := registry.RegisterGauge("relay", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "requests_total", Help: "r"}, []string{"route"})
	require.NoError(t, registry.RegisterCounterVec("gateway", "requests_total", vec))

	assert.True(t, registry.Unregister("gateway", "requests_total"))
	assert.False(t, registry.Unregister("gateway", "requests_total"))

	// can register again after unregistering
	require.NoError(t, registry.RegisterCounterVec("gateway", "requests_total", vec))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConnectionState(2)
		m.RecordMessageReceived()
		m.RecordParseError()
		m.RecordSamples(4)
		m.RecordCommit("readings")
	})
}

func TestServer_HandlerServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordMessageReceived()

	srv := httptest.NewServer(NewServer(":0", "/metrics", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	require.Contains(t, families, "obdstream_stream_messages_received_total")
	assert.Equal(t, 1.0, families["obdstream_stream_messages_received_total"].GetMetric()[0].GetCounter().GetValue())

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestMetricsRegistry_TotalsAndWriteText(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()
	core.RecordSamples(3)
	core.RecordEvicted("window", 1)
	core.RecordEvicted("clear", 2)
	core.RecordChannels(4)
	core.RecordReconnectScheduled(time.Second)

	totals, err := registry.Totals("obdstream_")
	require.NoError(t, err)
	assert.Equal(t, 3.0, totals["obdstream_history_samples_recorded_total"])
	assert.Equal(t, 3.0, totals["obdstream_history_samples_evicted_total"], "labelled series are summed")
	assert.Equal(t, 4.0, totals["obdstream_history_channels"])
	assert.Equal(t, 1.0, totals["obdstream_stream_reconnect_delay_seconds"], "histograms report their count")
	for name := range totals {
		assert.True(t, strings.HasPrefix(name, "obdstream_"), name)
	}

	var buf bytes.Buffer
	require.NoError(t, registry.WriteText(&buf, "obdstream_history_"))

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	require.NoError(t, err)
	assert.Len(t, families, 4)
	require.Contains(t, families, "obdstream_history_samples_evicted_total")
	assert.Len(t, families["obdstream_history_samples_evicted_total"].GetMetric(), 2)
}
