package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/gateway"
	"github.com/c360/obdstream/health"
	"github.com/c360/obdstream/history"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pipeline"
	"github.com/c360/obdstream/pkg/observable"
	"github.com/c360/obdstream/render"
	"github.com/c360/obdstream/stream"
	"github.com/c360/obdstream/telemetry"
)

type fakeSource struct {
	mu       sync.Mutex
	status   stream.Status
	readings []telemetry.Reading
	history  map[telemetry.ChannelKey][]history.Sample
	profile  render.Profile
	pub      observable.Publisher[[]telemetry.Reading]
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status:  stream.Status{State: stream.StateReady},
		profile: render.ProfilePerformance,
		history: map[telemetry.ChannelKey][]history.Sample{
			"RPM":   {{Timestamp: 1000, Value: 800}, {Timestamp: 1100, Value: 810}},
			"SPEED": {{Timestamp: 1000, Value: 12}},
		},
		readings: []telemetry.Reading{{Key: "RPM", Name: "Engine speed", Unit: telemetry.UnitRPM, Raw: "810", Display: "810 rpm"}},
	}
}

func (s *fakeSource) Status() stream.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSource) Health() health.Status {
	st := s.Status()
	if st.Terminal {
		return health.Aggregate("pipeline", []health.Status{health.FromError("stream", st.Err)})
	}
	return health.Aggregate("pipeline", []health.Status{health.NewHealthy("stream", "connected")})
}

func (s *fakeSource) setStatus(st stream.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *fakeSource) Readings() []telemetry.Reading          { return s.readings }
func (s *fakeSource) ThrottledReadings() []telemetry.Reading { return s.readings }
func (s *fakeSource) SubscribeReadings(fn func([]telemetry.Reading)) func() {
	return s.pub.Subscribe(fn)
}
func (s *fakeSource) History(key telemetry.ChannelKey) []history.Sample {
	if h, ok := s.history[key]; ok {
		return h
	}
	return []history.Sample{}
}
func (s *fakeSource) Merge(a, b telemetry.ChannelKey) []history.Row {
	return history.Merge(s.History(a), s.History(b))
}
func (s *fakeSource) Channels() []history.ChannelInfo {
	return []history.ChannelInfo{{Key: "RPM", Len: 2}, {Key: "SPEED", Len: 1}}
}
func (s *fakeSource) Stats() pipeline.Stats { return pipeline.Stats{Frames: 2, Recording: true} }
func (s *fakeSource) Profile() render.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}
func (s *fakeSource) SetProfile(name string) error {
	p, err := render.ParseProfile(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return nil
}

func newTestGateway(t *testing.T, src Source, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()
	g, err := NewGateway(gateway.DefaultConfig(), src, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		_ = g.Stop(context.Background())
		srv.Close()
	})
	return g, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestGetOrGenerateRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("X-Request-ID", "existing-request-id-12345")
	assert.Equal(t, "existing-request-id-12345", getOrGenerateRequestID(req))

	req = httptest.NewRequest("GET", "/status", nil)
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(req)
		assert.NotEmpty(t, id)
		assert.False(t, ids[id], "generated duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(gateway.DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	cfg := gateway.DefaultConfig()
	cfg.EnableCORS = true
	_, err = NewGateway(cfg, newFakeSource())
	assert.True(t, errors.IsInvalid(err))
}

func TestGateway_Status(t *testing.T) {
	src := newFakeSource()
	_, srv := newTestGateway(t, src)

	var body map[string]any
	code := getJSON(t, srv.URL+"/status", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["state"])
	assert.Equal(t, false, body["terminal"])
}

func TestGateway_HealthReflectsTerminalState(t *testing.T) {
	src := newFakeSource()
	_, srv := newTestGateway(t, src)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", nil))

	src.setStatus(stream.Status{
		State:    stream.StateError,
		Terminal: true,
		Err:      errors.WrapFatal(errors.ErrMaxRetriesExceeded, "Manager", "scheduleRetry", "reconnect"),
	})

	var body map[string]any
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, false, body["healthy"])
	assert.Equal(t, "unhealthy", body["status"])
	require.Len(t, body["sub_statuses"], 1)

	var status map[string]any
	getJSON(t, srv.URL+"/status", &status)
	assert.Equal(t, true, status["terminal"])
	assert.Contains(t, status["error"], "maximum retries exceeded")
}

func TestGateway_Readings(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	var readings []map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readings", &readings))
	require.Len(t, readings, 1)
	assert.Equal(t, "RPM", readings[0]["pid"])
	assert.Equal(t, "810 rpm", readings[0]["value"])
}

func TestGateway_History(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	var body historyResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/history/rpm", &body))
	assert.Equal(t, telemetry.ChannelKey("RPM"), body.Key)
	assert.Len(t, body.Samples, 2)

	body = historyResponse{}
	getJSON(t, srv.URL+"/history/unknown", &body)
	assert.NotNil(t, body.Samples)
	assert.Empty(t, body.Samples)
}

func TestGateway_Merge(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	var body mergeResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/history?a=rpm&b=speed", &body))
	require.Len(t, body.Rows, 2)
	assert.Equal(t, int64(1000), body.Rows[0].Timestamp)
	require.NotNil(t, body.Rows[0].B)
	assert.Nil(t, body.Rows[1].B)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/history?a=rpm", nil))
}

func TestGateway_Channels(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	var channels []history.ChannelInfo
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/channels", &channels))
	assert.Len(t, channels, 2)
}

func TestGateway_Profile(t *testing.T) {
	src := newFakeSource()
	_, srv := newTestGateway(t, src)

	put := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/profile", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := put(`{"profile":"powersave"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, render.ProfilePowerSave, src.Profile())

	var got profileBody
	getJSON(t, srv.URL+"/profile", &got)
	assert.Equal(t, render.ProfilePowerSave, got.Profile)
	assert.Equal(t, "600ms", got.Interval)

	assert.Equal(t, http.StatusBadRequest, put(`{"profile":"turbo"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, put(`nope`).StatusCode)
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGateway_ReadingsStream(t *testing.T) {
	src := newFakeSource()
	_, srv := newTestGateway(t, src)

	resp, err := http.Get(srv.URL + "/readings/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return data
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	assert.Contains(t, readEvent(), `"810 rpm"`)

	require.Eventually(t, func() bool { return src.pub.Len() == 1 }, time.Second, 5*time.Millisecond)
	src.pub.Publish([]telemetry.Reading{{Key: "RPM", Display: "900 rpm"}})
	assert.Contains(t, readEvent(), `"900 rpm"`)
}

func TestGateway_StopEndsStreams(t *testing.T) {
	src := newFakeSource()
	g, srv := newTestGateway(t, src)

	resp, err := http.Get(srv.URL + "/readings/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return src.pub.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, g.Stop(context.Background()))
	assert.Eventually(t, func() bool { return src.pub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestGateway_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, srv := newTestGateway(t, newFakeSource(), WithMetrics(registry))

	getJSON(t, srv.URL+"/status", nil)
	getJSON(t, srv.URL+"/history?a=rpm", nil)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "obdstream_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			counts[labels["route"]+"/"+labels["code"]] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, counts["status/200"])
	assert.Equal(t, 1.0, counts["merge/400"])
}

func TestGateway_CORS(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"https://dash.example.com"}
	g, err := NewGateway(cfg, newFakeSource())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	g := &Gateway{}
	tests := []struct {
		name string
		err  error
		want int
		msg  string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal server error"},
		{"invalid", errors.WrapInvalid(errors.ErrInvalidConfig, "X", "y", "z"), http.StatusBadRequest, "invalid request"},
		{"transient", errors.WrapTransient(errors.ErrNoConnection, "X", "y", "z"), http.StatusServiceUnavailable, "service temporarily unavailable"},
		{"fatal", errors.WrapFatal(errors.ErrMaxRetriesExceeded, "X", "y", "z"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.mapErrorToHTTPStatus(tt.err))
			assert.Equal(t, tt.msg, g.sanitizeError(tt.err))
		})
	}
}

func TestGateway_StatsWithoutMetrics(t *testing.T) {
	_, srv := newTestGateway(t, newFakeSource())

	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stats", &body))
	assert.NotContains(t, body, "metrics")

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/stats?format=prometheus", nil))
}

func TestGateway_StatsIncludeMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	registry.CoreMetrics().RecordSamples(5)
	_, srv := newTestGateway(t, newFakeSource(), WithMetrics(registry))

	getJSON(t, srv.URL+"/status", nil)

	var body struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stats", &body))
	assert.Equal(t, 5.0, body.Metrics["obdstream_history_samples_recorded_total"])
	assert.Equal(t, 1.0, body.Metrics["obdstream_http_requests_total"])
	assert.NotContains(t, body.Metrics, "go_goroutines")

	resp, err := http.Get(srv.URL + "/stats?format=prometheus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, families, "obdstream_http_requests_total")
	assert.NotContains(t, families, "go_goroutines")
}
