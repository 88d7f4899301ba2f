package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer
	Webhooks   WebhookGateway
	Executions ExecutionService
	// Events is optional; without it POST /api/events is not served.
	Events       EventPublisher
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the webhook endpoint
// bypass bearer authentication; webhooks authenticate by signature.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		if deps.Gatherer != nil {
			r.Handle(path, observability.HandlerFor(deps.Gatherer))
		} else {
			r.Handle(path, observability.Handler())
		}
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(MaxBody(cfg.Server.MaxBodyBytes))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(deps.Metrics.MetricsMiddleware)

		if deps.Webhooks != nil {
			r.Post("/workflow-webhook", handleWebhook(deps.Webhooks, cfg.Webhook.SignatureHeader))
		}

		auth := deps.Authenticate
		if auth == nil {
			auth = JWTAuthenticator(cfg.Identity)
		}
		r.Route("/api", func(r chi.Router) {
			r.Use(auth)
			r.Use(BuildRequestContextMiddleware(cfg.Identity.ClaimPaths))

			if deps.Executions != nil {
				r.Post("/workflows/{workflowId}/invoke", handleInvoke(deps.Executions))
				r.Get("/executions", handleExecutionList(deps.Executions))
				r.Get("/executions/{executionId}", handleExecutionGet(deps.Executions))
			}
			if deps.Events != nil {
				r.Post("/events", handleEventPublish(deps.Events))
			}
		})
	})

	return r
}
