// Package api provides the HTTP API for the pollen index service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/api/handler"
	"github.com/pollenindex/pollenindex/internal/api/middleware"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string

	// Metrics records OpenTelemetry HTTP metrics (optional).
	Metrics *middleware.Metrics

	// Prometheus serves GET /metrics (optional).
	Prometheus http.Handler

	// Tokens validates admin bearer tokens. Admin routes are not mounted without it.
	Tokens middleware.TokenValidator

	FeatureFlagService *featureflags.Service

	Store       *conditions.Store
	Coordinator handler.CycleStarter
	Streams     handler.StreamObserver
	Registry    *resilience.Registry

	// HealthChecks gate readiness (optional).
	HealthChecks []handler.HealthChecker

	AdUnitID   string
	RequireTLS bool

	// Heartbeat is the event stream keep-alive interval (optional).
	Heartbeat time.Duration
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pollenindex-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		Registry:     cfg.Registry,
		Store:        cfg.Store,
		FeatureFlags: cfg.FeatureFlagService,
		Checks:       cfg.HealthChecks,
	})
	metadataHandler := handler.NewMetadataHandler(cfg.AdUnitID, cfg.FeatureFlagService)
	conditionsHandler := handler.NewConditionsHandler(handler.ConditionsHandlerConfig{
		Store:       cfg.Store,
		Coordinator: cfg.Coordinator,
		Streams:     cfg.Streams,
		Logger:      cfg.Logger,
		Heartbeat:   cfg.Heartbeat,
	})

	// Rate limits per endpoint category
	adminRateLimit := middleware.RateLimitByAdmin(middleware.AdminRateLimit)      // 10 req/min
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	if cfg.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Prometheus)
	}

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Metadata endpoints (public) - standard rate limiting
		r.Route("/metadata", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/enums", metadataHandler.GetEnums)
		})

		// Conditions: reads are cheap, commands start upstream fetches.
		r.Route("/conditions", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", conditionsHandler.GetConditions)
			r.Get("/events", conditionsHandler.StreamEvents)
			r.With(expensiveRateLimit).Post("/refresh", conditionsHandler.Refresh)
		})
		r.With(expensiveRateLimit, middleware.RequireJSON).Put("/location", conditionsHandler.SetLocation)

		// Admin endpoints (authenticated) - for internal operations
		if cfg.Tokens != nil && cfg.FeatureFlagService != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.Auth(cfg.Tokens))
				r.Use(adminRateLimit)

				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.With(middleware.RequireJSON).Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
					r.Delete("/{key}", featureFlagsHandler.ResetFeatureFlag)
				})
			})
		}
	})

	return r
}
