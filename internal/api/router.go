// Package api wires the AirGrid HTTP API.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/aggregation"
	"github.com/airgrid/airgrid/internal/api/handler"
	"github.com/airgrid/airgrid/internal/api/middleware"
	"github.com/airgrid/airgrid/internal/intake"
	"github.com/airgrid/airgrid/internal/notifier"
)

// RouterConfig holds the dependencies of the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Intake      *intake.Service
	Aggregation *aggregation.Service
	Hub         *notifier.Hub
	Stream      handler.StreamConfig

	// Readiness lists the dependencies pinged by /v1/ops/ready.
	Readiness map[string]handler.Pinger

	RequireTLS      bool
	IngestRateLimit middleware.RateLimitConfig
	QueryRateLimit  middleware.RateLimitConfig
}

// NewRouter creates the chi router with every route of the API.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "airgrid-api"
	}
	if cfg.IngestRateLimit.RequestLimit <= 0 {
		cfg.IngestRateLimit = middleware.IngestRateLimit
	}
	if cfg.QueryRateLimit.RequestLimit <= 0 {
		cfg.QueryRateLimit = middleware.QueryRateLimit
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
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Readiness)
	aqHandler := handler.NewAirQualityHandler(cfg.Intake, cfg.Aggregation, cfg.Logger)
	streamHandler := handler.NewStreamHandler(cfg.Hub, cfg.Stream, cfg.Logger)

	ingestLimit := middleware.RateLimitByIP(cfg.IngestRateLimit)
	queryLimit := middleware.RateLimitByIP(cfg.QueryRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.With(ingestLimit, middleware.RequireJSON).Post("/air_quality/ingest", aqHandler.Ingest)

		r.Group(func(r chi.Router) {
			r.Use(queryLimit)
			r.Get("/air_quality/heatmap_data", aqHandler.Heatmap)
			r.Get("/air_quality/points", aqHandler.Points)
			r.Get("/air_quality/location", aqHandler.Location)
			r.Get("/air_quality/location_history/{cell_id}", aqHandler.LocationHistory)
			r.Get("/pollution_density", aqHandler.PollutionDensity)
			r.Get("/anomalies", aqHandler.Anomalies)
		})

		r.Get("/ws/anomalies", streamHandler.Anomalies)
	})

	return r
}
