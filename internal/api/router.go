// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

// Package api provides the HTTP trigger surface using the Chi router:
// sync trigger and status endpoints, sync log queries, the stuck-sync
// cleanup endpoint, health, and Prometheus metrics.
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

	"github.com/tomtom215/marketsync/internal/config"
	"github.com/tomtom215/marketsync/internal/metrics"
)

// Router assembles the HTTP handler tree.
type Router struct {
	cfg      *config.ServerConfig
	handlers *Handlers
}

// NewRouter creates the router for the given handlers.
func NewRouter(cfg *config.ServerConfig, handlers *Handlers) *Router {
	return &Router{cfg: cfg, handlers: handlers}
}

// Setup configures all routes and the global middleware stack.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(router.cfg.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(prometheusMiddleware)

	r.Get("/healthz", router.handlers.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))

		r.Post("/", router.handlers.TriggerSync)
		r.Get("/status", router.handlers.SyncStatus)
		r.Get("/logs", router.handlers.ListSyncLogs)
		r.Get("/logs/latest", router.handlers.LatestSyncLog)
		r.Get("/logs/{id}", router.handlers.GetSyncLog)
		r.Post("/cleanup", router.handlers.Cleanup)
	})

	return r
}

// prometheusMiddleware records request counts and latencies per route
// pattern, so path parameters don't explode label cardinality.
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, httpStatusLabel(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

func httpStatusLabel(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status)
}
