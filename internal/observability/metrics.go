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
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stepDurationBuckets      = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	executionDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionsStartedTotal  *prometheus.CounterVec
	ExecutionsFinishedTotal *prometheus.CounterVec
	ExecutionDuration       *prometheus.HistogramVec
	ExecutionsInFlight      prometheus.Gauge
	PreflightRejectsTotal   *prometheus.CounterVec

	// Step metrics
	StepExecutionsTotal *prometheus.CounterVec
	StepDuration        *prometheus.HistogramVec
	StepTimeoutsTotal   *prometheus.CounterVec

	// Trigger metrics
	WebhookRequestsTotal   *prometheus.CounterVec
	ScheduledRunsTotal     *prometheus.CounterVec
	EventsConsumedTotal    *prometheus.CounterVec
	ScheduleJobsRegistered prometheus.Gauge

	// Executor dependencies
	CircuitBreakerState *prometheus.GaugeVec
	NotificationsTotal  *prometheus.CounterVec

	// System metrics
	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowengine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		ExecutionsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_executions_started_total",
			Help: "Total number of executions created.",
		}, []string{"workflow_id", "triggered_by"}),
		ExecutionsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_executions_finished_total",
			Help: "Total number of executions that reached a terminal status.",
		}, []string{"workflow_id", "status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowengine_execution_duration_seconds",
			Help:    "Wall time from execution start to finalization.",
			Buckets: executionDurationBuckets,
		}, []string{"workflow_id"}),
		ExecutionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_executions_in_flight",
			Help: "Number of executions currently running in this process.",
		}),
		PreflightRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_preflight_rejects_total",
			Help: "Invocations rejected before an execution was created.",
		}, []string{"reason"}),

		StepExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_step_executions_total",
			Help: "Total number of dispatched steps.",
		}, []string{"step_type", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowengine_step_duration_seconds",
			Help:    "Step duration in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"step_type"}),
		StepTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_step_timeouts_total",
			Help: "Total number of steps that exceeded their deadline.",
		}, []string{"step_type"}),

		WebhookRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_webhook_requests_total",
			Help: "Webhook requests by outcome.",
		}, []string{"outcome"}),
		ScheduledRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_scheduled_runs_total",
			Help: "Cron-triggered invocations by outcome.",
		}, []string{"outcome"}),
		EventsConsumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_events_consumed_total",
			Help: "Bus events consumed by outcome.",
		}, []string{"outcome"}),
		ScheduleJobsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_schedule_jobs_registered",
			Help: "Number of schedule triggers registered with the cron runner.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowengine_api_call_circuit_breaker_state",
			Help: "Circuit breaker state per host (0=closed, 1=half-open, 2=open).",
		}, []string{"host"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_notifications_total",
			Help: "Notification intents recorded by channel.",
		}, []string{"channel"}),

		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_definitions_loaded",
			Help: "Number of workflows loaded from definition files.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ExecutionsStartedTotal,
		m.ExecutionsFinishedTotal,
		m.ExecutionDuration,
		m.ExecutionsInFlight,
		m.PreflightRejectsTotal,
		m.StepExecutionsTotal,
		m.StepDuration,
		m.StepTimeoutsTotal,
		m.WebhookRequestsTotal,
		m.ScheduledRunsTotal,
		m.EventsConsumedTotal,
		m.ScheduleJobsRegistered,
		m.CircuitBreakerState,
		m.NotificationsTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---
// All helpers are safe to call on a nil *Metrics.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordExecutionStart records a newly created execution.
func (m *Metrics) RecordExecutionStart(workflowID, triggeredBy string) {
	if m == nil {
		return
	}
	m.ExecutionsStartedTotal.WithLabelValues(workflowID, triggeredBy).Inc()
	m.ExecutionsInFlight.Inc()
}

// RecordExecutionFinish records an execution reaching a terminal status.
func (m *Metrics) RecordExecutionFinish(workflowID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsFinishedTotal.WithLabelValues(workflowID, status).Inc()
	m.ExecutionDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
	m.ExecutionsInFlight.Dec()
}

// RecordPreflightReject records an invocation refused before any execution
// row was written.
func (m *Metrics) RecordPreflightReject(reason string) {
	if m == nil {
		return
	}
	m.PreflightRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordStep records one dispatched step. Outcome is success, failure or
// timeout.
func (m *Metrics) RecordStep(stepType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepExecutionsTotal.WithLabelValues(stepType, outcome).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordStepTimeout records a step that exceeded its deadline.
func (m *Metrics) RecordStepTimeout(stepType string) {
	if m == nil {
		return
	}
	m.StepTimeoutsTotal.WithLabelValues(stepType).Inc()
}

// RecordWebhook records the outcome of one webhook request.
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordScheduledRun records the outcome of a cron-triggered invocation.
func (m *Metrics) RecordScheduledRun(outcome string) {
	if m == nil {
		return
	}
	m.ScheduledRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordEventConsumed records the outcome of one consumed bus event.
func (m *Metrics) RecordEventConsumed(outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumedTotal.WithLabelValues(outcome).Inc()
}

// SetScheduleJobs sets the number of registered cron jobs.
func (m *Metrics) SetScheduleJobs(count int) {
	if m == nil {
		return
	}
	m.ScheduleJobsRegistered.Set(float64(count))
}

// SetCircuitBreakerState sets the breaker state for a host.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCircuitBreakerState(host string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(host).Set(state)
}

// RecordNotification records a notification intent.
func (m *Metrics) RecordNotification(channel string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel).Inc()
}

// SetDefinitionsLoaded sets the number of loaded workflow definitions.
func (m *Metrics) SetDefinitionsLoaded(count int) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(float64(count))
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

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving only the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
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
	w.written = true
	return w.ResponseWriter.Write(b)
}
