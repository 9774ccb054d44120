// Package api provides the HTTP API of the transit optimization service.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/api/handler"
	"github.com/transitopt/transitopt/internal/api/middleware"
	"github.com/transitopt/transitopt/internal/auth"
	"github.com/transitopt/transitopt/internal/planner"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Planner     *planner.Service

	// Tokens validates operator bearer tokens. Without it every protected
	// endpoint answers 401.
	Tokens middleware.TokenValidator

	// RequireTLS rejects forwarded plain-HTTP requests.
	RequireTLS bool

	// Checks are extra readiness probes, e.g. the database.
	Checks []handler.Check

	// Now resolves relative dates in prediction requests (default: time.Now).
	Now func() time.Time
}

type rejectAll struct{}

func (rejectAll) ValidateAccessToken(string) (*auth.JWTClaims, error) {
	return nil, auth.ErrInvalidAccessToken
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "transitopt-api"
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = rejectAll{}
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLSIf(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.RequireJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Planner:   cfg.Planner,
		Checks:    cfg.Checks,
	})
	metadataHandler := handler.NewMetadataHandler(cfg.Planner)
	optimizeHandler := handler.NewOptimizeHandler(cfg.Planner)
	predictHandler := handler.NewPredictHandler(cfg.Planner, cfg.Now)
	resultsHandler := handler.NewResultsHandler(cfg.Planner)
	adminHandler := handler.NewAdminHandler(cfg.Planner, cfg.Logger)

	operatorAuth := middleware.Auth(tokens, auth.RoleOperator)
	adminAuth := middleware.Auth(tokens, auth.RoleAdmin)

	optimizeRateLimit := middleware.RateLimitByOperator(middleware.OptimizeRateLimit) // 10 req/min
	predictRateLimit := middleware.RateLimitByIP(middleware.PredictRateLimit)         // 60 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)       // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.With(standardRateLimit).Get("/metadata", metadataHandler.GetMetadata)

		// Optimization runs are stored, so they need an operator.
		r.Route("/optimize", func(r chi.Router) {
			r.Use(operatorAuth)
			r.Use(optimizeRateLimit)
			r.Post("/routes", optimizeHandler.OptimizeRoutes)
			r.Post("/schedules", optimizeHandler.OptimizeSchedules)
		})

		r.Route("/predict", func(r chi.Router) {
			r.Use(predictRateLimit)
			r.Post("/demand", predictHandler.PredictDemand)
			r.Post("/network-demand", predictHandler.PredictNetworkDemand)
		})

		r.Route("/results/{kind}", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", resultsHandler.Latest)
			r.Get("/{id}", resultsHandler.Get)
		})

		r.Route("/schedules/{id}", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/gtfs", resultsHandler.ExportGTFS)
			r.Get("/report", resultsHandler.Report)
		})

		r.Route("/admin/model", func(r chi.Router) {
			r.Use(adminAuth)
			r.Use(standardRateLimit)
			r.Get("/", adminHandler.ModelStatus)
			r.Post("/train", adminHandler.Train)
			r.Post("/rollback", adminHandler.Rollback)
		})
	})

	return r
}
