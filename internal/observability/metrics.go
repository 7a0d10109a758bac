package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the orchestrator.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Pipeline metrics
	PipelineRunsTotal      *prometheus.CounterVec
	PipelineDuration       *prometheus.HistogramVec
	DuplicateTriggersTotal prometheus.Counter

	// Stage invocation metrics
	StageRequestsTotal       *prometheus.CounterVec
	StageRequestDuration     *prometheus.HistogramVec
	StageRetriesTotal        *prometheus.CounterVec
	StageCircuitBreakerState *prometheus.GaugeVec

	// Routing metrics
	RoutedWritesTotal   *prometheus.CounterVec
	RoutingErrorsTotal  prometheus.Counter
	ValidationFailTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Pipeline
		PipelineRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_pipeline_runs_total",
			Help: "Total number of completed pipeline runs.",
		}, []string{"result"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_pipeline_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"result"}),
		DuplicateTriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_duplicate_triggers_total",
			Help: "Total number of deduplicated trigger requests.",
		}),

		// Stage invocations
		StageRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_stage_requests_total",
			Help: "Total number of stage agent requests.",
		}, []string{"target", "status"}),
		StageRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradeflow_stage_request_duration_seconds",
			Help:    "Stage agent request duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"target"}),
		StageRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_stage_retries_total",
			Help: "Total number of stage request retries.",
		}, []string{"target"}),
		StageCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeflow_stage_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"target"}),

		// Routing
		RoutedWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeflow_routed_writes_total",
			Help: "Total number of canonical records routed to storage.",
		}, []string{"classification", "table"}),
		RoutingErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_routing_errors_total",
			Help: "Total number of unroutable classifications.",
		}),
		ValidationFailTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeflow_record_validation_failures_total",
			Help: "Total number of extracted records rejected by validation.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Pipeline
		m.PipelineRunsTotal,
		m.PipelineDuration,
		m.DuplicateTriggersTotal,
		// Stage invocations
		m.StageRequestsTotal,
		m.StageRequestDuration,
		m.StageRetriesTotal,
		m.StageCircuitBreakerState,
		// Routing
		m.RoutedWritesTotal,
		m.RoutingErrorsTotal,
		m.ValidationFailTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordPipeline records a finished pipeline run.
func (m *Metrics) RecordPipeline(result string, duration time.Duration) {
	m.PipelineRunsTotal.WithLabelValues(result).Inc()
	m.PipelineDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordDuplicateTrigger records a deduplicated trigger request.
func (m *Metrics) RecordDuplicateTrigger() {
	m.DuplicateTriggersTotal.Inc()
}

// RecordStageCall records one stage agent request attempt.
func (m *Metrics) RecordStageCall(target string, status int, duration time.Duration) {
	m.StageRequestsTotal.WithLabelValues(target, strconv.Itoa(status)).Inc()
	m.StageRequestDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordRetry records a stage request retry.
func (m *Metrics) RecordRetry(target string) {
	m.StageRetriesTotal.WithLabelValues(target).Inc()
}

// SetBreakerState sets the circuit breaker state gauge for a target.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBreakerState(target string, state float64) {
	m.StageCircuitBreakerState.WithLabelValues(target).Set(state)
}

// RecordRoutedWrite records a canonical record routed to its table.
func (m *Metrics) RecordRoutedWrite(classification, table string) {
	m.RoutedWritesTotal.WithLabelValues(classification, table).Inc()
}

// RecordRoutingError records an unroutable classification.
func (m *Metrics) RecordRoutingError() {
	m.RoutingErrorsTotal.Inc()
}

// RecordValidationFailure records a record rejected by validation.
func (m *Metrics) RecordValidationFailure() {
	m.ValidationFailTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
