// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchdash/merchdash/internal/config"
	"github.com/merchdash/merchdash/internal/metrics"
)

// NewRouter assembles the HTTP routing table.
//
// Listing and stats endpoints share the standard rate limit; the dispatch
// and sync-trigger endpoints get a stricter one because each request fans
// out to the upstream.
func NewRouter(handler *Handler, cfg *config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(prometheusMetrics)
		if !cfg.RateLimitDisabled {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}

		r.Get("/health", handler.Health)
		r.Get("/stats", handler.Stats)
		r.Get("/products", handler.Products)
		r.Get("/products/{id}", handler.Product)
		r.Get("/memberships", handler.Memberships)

		// Fan-out endpoints: one request here can mean hundreds of upstream
		// calls, so the limit is much tighter.
		r.Group(func(r chi.Router) {
			if !cfg.RateLimitDisabled {
				r.Use(httprate.LimitByIP(10, time.Minute))
			}
			r.Post("/notifications", handler.Notifications)
			r.Post("/sync/trigger", handler.SyncTrigger)
		})
	})

	return r
}

// prometheusMetrics records request latency by route pattern, method, and status.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(wrapper.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
