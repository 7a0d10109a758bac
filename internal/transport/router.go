package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finlake/tradeflow/internal/config"
	"github.com/finlake/tradeflow/internal/observability"
	"github.com/finlake/tradeflow/model"
)

// StatusReader serves session status snapshots. *status.Writer satisfies it.
type StatusReader interface {
	Snapshot(ctx context.Context, sessionID string) model.WorkflowSession
}

// PipelineStarter accepts pipeline triggers. *orchestrator.Orchestrator
// satisfies it.
type PipelineStarter interface {
	Start(ctx context.Context, req model.ProcessRequest) (model.ProcessResponse, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Orchestrator PipelineStarter
	Status       StatusReader
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// handler timeout and request logging.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Operational routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// API routes get the full middleware chain.
	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/process", deps.handleProcess)
		r.Get("/workflow/{sessionID}/status", deps.handleStatus)
	})

	return r
}
