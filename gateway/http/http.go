// Package http serves the telemetry pipeline over a read-only HTTP API.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/obdstream/errors"
	"github.com/c360/obdstream/gateway"
	"github.com/c360/obdstream/health"
	"github.com/c360/obdstream/history"
	"github.com/c360/obdstream/metric"
	"github.com/c360/obdstream/pipeline"
	"github.com/c360/obdstream/render"
	"github.com/c360/obdstream/stream"
	"github.com/c360/obdstream/telemetry"
)

// Source is the pipeline surface the gateway reads from.
type Source interface {
	Status() stream.Status
	Health() health.Status
	Readings() []telemetry.Reading
	ThrottledReadings() []telemetry.Reading
	SubscribeReadings(fn func([]telemetry.Reading)) (unsubscribe func())
	History(key telemetry.ChannelKey) []history.Sample
	Merge(a, b telemetry.ChannelKey) []history.Row
	Channels() []history.ChannelInfo
	Stats() pipeline.Stats
	Profile() render.Profile
	SetProfile(name string) error
}

// getOrGenerateRequestID extracts request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Option configures a Gateway.
type Option func(*Gateway) error

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) error {
		if l != nil {
			g.logger = l
		}
		return nil
	}
}

// WithMetrics registers request counters and latency histograms on registrar.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(g *Gateway) error {
		if registrar == nil {
			return nil
		}
		requests := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obdstream",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"})
		duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "obdstream",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"})

		if err := registrar.RegisterCounterVec("gateway", "requests_total", requests); err != nil {
			return err
		}
		if err := registrar.RegisterHistogramVec("gateway", "request_duration_seconds", duration); err != nil {
			registrar.Unregister("gateway", "requests_total")
			return err
		}
		g.requests = requests
		g.duration = duration
		if snap, ok := registrar.(snapshotter); ok {
			g.snapshot = snap
		}
		return nil
	}
}

// snapshotter is implemented by metric.MetricsRegistry.
type snapshotter interface {
	Totals(prefix string) (map[string]float64, error)
	WriteText(w io.Writer, prefix string) error
}

const metricsPrefix = "obdstream_"

// Gateway exposes a Source over HTTP.
type Gateway struct {
	config gateway.Config
	source Source
	logger *slog.Logger

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	snapshot snapshotter

	// closed when Stop begins so open event streams end
	shutdown     chan struct{}
	shutdownOnce sync.Once

	mu     sync.Mutex // protects server field
	server *http.Server

	// Metrics (atomic operations)
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	streams        atomic.Int64
}

// NewGateway creates a gateway serving src.
func NewGateway(cfg gateway.Config, src Source, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if src == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"source is required")
	}

	g := &Gateway{
		config:   cfg,
		source:   src,
		logger:   slog.Default(),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "apply option")
		}
	}
	g.logger = g.logger.With("component", "gateway")
	return g, nil
}

// RegisterHTTPHandlers registers gateway routes with the HTTP mux
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	routes := []struct {
		pattern string
		name    string
		handler http.HandlerFunc
	}{
		{"GET " + prefix + "status", "status", g.handleStatus},
		{"GET " + prefix + "health", "health", g.handleHealth},
		{"GET " + prefix + "stats", "stats", g.handleStats},
		{"GET " + prefix + "readings", "readings", g.handleReadings},
		{"GET " + prefix + "readings/stream", "readings_stream", g.handleReadingsStream},
		{"GET " + prefix + "channels", "channels", g.handleChannels},
		{"GET " + prefix + "history", "merge", g.handleMerge},
		{"GET " + prefix + "history/{key}", "history", g.handleHistory},
		{"GET " + prefix + "profile", "profile", g.handleGetProfile},
		{"PUT " + prefix + "profile", "profile_set", g.handleSetProfile},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, g.instrument(rt.name, rt.handler))
	}
}

// Handler returns a mux with every route mounted at the root.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("/", mux)
	return mux
}

// Start runs the HTTP server until Stop is called. It returns nil after a
// clean shutdown.
func (g *Gateway) Start() error {
	g.mu.Lock()
	if g.server != nil {
		g.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Gateway", "Start", "start server")
	}
	select {
	case <-g.shutdown:
		g.mu.Unlock()
		return nil
	default:
	}
	srv := &http.Server{
		Addr:              g.config.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.server = srv
	g.mu.Unlock()

	g.logger.Info("HTTP gateway listening", "addr", g.config.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Gateway", "Start",
			fmt.Sprintf("failed to start server on %s", g.config.Addr))
	}
	return nil
}

// Stop ends open event streams and gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.shutdownOnce.Do(func() { close(g.shutdown) })

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		err := g.server.Shutdown(ctx)
		g.server = nil
		if err != nil {
			return errors.WrapTransient(err, "Gateway", "Stop", "shut down HTTP server")
		}
	}
	return nil
}

// Address returns the listen address.
func (g *Gateway) Address() string {
	return g.config.Addr
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets event streams push through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument wraps a route with request IDs, CORS and metrics.
func (g *Gateway) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if g.config.EnableCORS {
			g.applyCORS(w, r)
		}

		g.requestsTotal.Add(1)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)

		if rec.code >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		if g.requests != nil {
			g.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			g.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
		g.logger.Debug("HTTP request", "route", route, "code", rec.code,
			"request_id", requestID, "duration", time.Since(start))
	})
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.source.Status())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := g.source.Health()
	code := http.StatusOK
	if st.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, st)
}

// handleStats reports pipeline and gateway counters. With ?format=prometheus
// and a metrics registry it writes the obdstream families as exposition text.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "prometheus" {
		if g.snapshot == nil {
			g.writeError(w, http.StatusNotFound, "metrics are not enabled")
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if err := g.snapshot.WriteText(w, metricsPrefix); err != nil {
			g.logger.Error("Writing metrics failed", "error", err)
		}
		return
	}

	body := map[string]any{
		"pipeline": g.source.Stats(),
		"gateway": map[string]any{
			"requests": g.requestsTotal.Load(),
			"failed":   g.requestsFailed.Load(),
			"streams":  g.streams.Load(),
		},
	}
	if g.snapshot != nil {
		totals, err := g.snapshot.Totals(metricsPrefix)
		if err != nil {
			g.logger.Warn("Gathering metrics failed", "error", err)
		} else {
			body["metrics"] = totals
		}
	}
	g.writeJSON(w, http.StatusOK, body)
}

func (g *Gateway) handleReadings(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.source.Readings())
}

func (g *Gateway) handleChannels(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.source.Channels())
}

type historyResponse struct {
	Key     telemetry.ChannelKey `json:"pid"`
	Samples []history.Sample     `json:"samples"`
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := telemetry.NewChannelKey(r.PathValue("key"))
	if key == "" {
		g.writeError(w, http.StatusBadRequest, "channel key is required")
		return
	}
	g.writeJSON(w, http.StatusOK, historyResponse{Key: key, Samples: g.source.History(key)})
}

type mergeResponse struct {
	A    telemetry.ChannelKey `json:"a"`
	B    telemetry.ChannelKey `json:"b"`
	Rows []history.Row        `json:"rows"`
}

func (g *Gateway) handleMerge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a := telemetry.NewChannelKey(q.Get("a"))
	b := telemetry.NewChannelKey(q.Get("b"))
	if a == "" || b == "" {
		g.writeError(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}
	g.writeJSON(w, http.StatusOK, mergeResponse{A: a, B: b, Rows: g.source.Merge(a, b)})
}

type profileBody struct {
	Profile  render.Profile `json:"profile"`
	Interval string         `json:"interval,omitempty"`
}

func (g *Gateway) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	p := g.source.Profile()
	g.writeJSON(w, http.StatusOK, profileBody{Profile: p, Interval: p.Interval().String()})
}

func (g *Gateway) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var body profileBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := g.source.SetProfile(string(body.Profile)); err != nil {
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}
	p := g.source.Profile()
	g.writeJSON(w, http.StatusOK, profileBody{Profile: p, Interval: p.Interval().String()})
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsFatal(err):
		return http.StatusInternalServerError
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients
func (g *Gateway) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsFatal(err):
		return "internal server error"
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Encoding response failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	_, _ = w.Write(data)
}
