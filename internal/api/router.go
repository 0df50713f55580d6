// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/eventpipe/internal/auth"
	"github.com/tomtom215/eventpipe/internal/middleware"
)

// Router builds the chi route tree.
type Router struct {
	handler *Handler
	tenants *auth.TenantScope
}

// NewRouter creates a Router. jwt may be nil when bearer tokens are disabled.
func NewRouter(handler *Handler, jwt *auth.JWTManager) *Router {
	return &Router{
		handler: handler,
		tenants: auth.NewTenantScope(handler.cfg.Security.TenantHeader, jwt, func(w http.ResponseWriter, _ *http.Request) {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid tenant credentials", nil)
		}),
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	cfg := router.handler.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(cfg.Security.CORSOrigins, cfg.Security.TenantHeader))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Ingest carries its own per-IP and per-tenant limiter.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.tenants.Middleware)

		r.Post("/api/v1/events", router.handler.IngestEvent)
		r.Get("/api/v1/stream", router.handler.StreamSSE)
		r.Get("/api/v1/ws", router.handler.StreamWebSocket)
	})

	r.Group(func(r chi.Router) {
		r.Use(managementRateLimit(cfg.Security.ManagementRateLimit, cfg.Security.ManagementRateWindow))
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.tenants.Middleware)
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Get("/api/v1/stream/last", router.handler.StreamLast)
		r.Route("/api/v1/webhooks", func(r chi.Router) {
			r.Get("/", router.handler.ListWebhooks)
			r.Post("/", router.handler.CreateWebhook)
			r.Post("/replay", router.handler.ReplayWebhooks)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Route not found", nil)
	})
	return r
}

func corsHandler(origins []string, tenantHeader string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", tenantHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// managementRateLimit limits non-ingest routes per client IP with httprate.
// A non-positive limit disables it.
func managementRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			respondError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Rate limit exceeded", nil)
		}),
	)
}
