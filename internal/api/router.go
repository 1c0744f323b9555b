// Package api provides the operational HTTP API for the model-ops service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dividash/modelops/internal/api/handler"
	"github.com/dividash/modelops/internal/api/middleware"
	"github.com/dividash/modelops/internal/pipeline"
	"github.com/dividash/modelops/internal/runstore"
	"github.com/dividash/modelops/internal/selfheal"
	"github.com/dividash/modelops/internal/status"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Manager     *selfheal.Manager
	Pipeline    *pipeline.Pipeline
	Runs        runstore.Repository
	Status      *status.Writer
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "modelops-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Manager:   cfg.Manager,
		Pipeline:  cfg.Pipeline,
		Runs:      cfg.Runs,
		Status:    cfg.Status,
		Logger:    cfg.Logger,
	})

	triggerRateLimit := middleware.RateLimitByIP(middleware.TriggerRateLimit)   // 5 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		// Run history and manual triggering
		r.Route("/runs", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", opsHandler.ListRuns)
			r.With(standardRateLimit).Get("/{runId}", opsHandler.GetRun)
			r.With(triggerRateLimit).Post("/", opsHandler.TriggerRun)
		})
	})

	return r
}
