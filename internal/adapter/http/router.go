package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iho/shardbank/internal/adapter/http/handler"
	"github.com/iho/shardbank/internal/adapter/http/middleware"
	"github.com/iho/shardbank/internal/infrastructure/metrics"
	"github.com/rs/zerolog"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	AccountHandler  *handler.AccountHandler
	TransferHandler *handler.TransferHandler
	RevenueHandler  *handler.RevenueHandler
	CommandHandler  *handler.CommandHandler
	HealthHandler   *handler.HealthHandler

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.NewMetricsMiddleware(cfg.Metrics).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))

	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Node-to-node command forwarding, not part of the public API.
	r.Post("/internal/v1/commands", cfg.CommandHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", cfg.AccountHandler.Open)
			r.Get("/{id}", cfg.AccountHandler.Get)
		})

		r.Post("/transfers", cfg.TransferHandler.Create)
		r.Get("/revenue", cfg.RevenueHandler.Get)
	})

	return r
}
