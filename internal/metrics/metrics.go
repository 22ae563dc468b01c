// Marketsync - Marketplace Account Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marketsync

// Package metrics provides Prometheus instrumentation for Marketsync:
// marketplace API traffic, rate limiter waits, page fetch outcomes, upsert
// results, sync run durations, and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Marketplace API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_api_requests_total",
			Help: "Total marketplace API requests by account, endpoint class, and outcome",
		},
		[]string{"account", "class", "outcome"}, // outcome: success, retryable, terminal
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_api_request_duration_seconds",
			Help:    "Duration of marketplace API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account", "class"},
	)

	// Rate Limiter Metrics
	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_rate_limit_waits_total",
			Help: "Total number of times a caller had to wait for rate limit capacity",
		},
		[]string{"account", "class"},
	)

	RateLimitWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting for rate limit capacity",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"account", "class"},
	)

	// Pagination Metrics
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_pages_fetched_total",
			Help: "Total pages fetched successfully",
		},
		[]string{"account", "sync_type"},
	)

	PagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_pages_skipped_total",
			Help: "Total pages skipped after exhausting retries",
		},
		[]string{"account", "sync_type"},
	)

	PaginationBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_pagination_breaker_trips_total",
			Help: "Times the consecutive-skip circuit breaker ended a fetch early",
		},
		[]string{"account", "sync_type"},
	)

	// Upsert Metrics
	UpsertResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_upsert_results_total",
			Help: "Record upsert outcomes by sync type and result",
		},
		[]string{"sync_type", "result"}, // result: created, updated, unchanged, failed
	)

	DedupDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_dedup_discards_total",
			Help: "Secondary-account records discarded by cross-account deduplication",
		},
		[]string{"sync_type"},
	)

	// Sync Run Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_sync_duration_seconds",
			Help:    "Duration of complete sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"sync_type", "status"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_sync_runs_total",
			Help: "Total sync runs by type, scope, and terminal status",
		},
		[]string{"sync_type", "account_scope", "status"},
	)

	SyncRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketsync_sync_runs_active",
			Help: "Number of sync runs currently in progress",
		},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketsync_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync per type",
		},
		[]string{"sync_type"},
	)

	StuckSyncsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketsync_stuck_syncs_reaped_total",
			Help: "Sync logs force-failed by the stuck-sync reaper",
		},
	)

	// Circuit Breaker Metrics (API-health breaker wrapping the client)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP API Metrics (trigger surface)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketsync_http_requests_total",
			Help: "Total HTTP requests to the trigger API",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests to the trigger API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordSyncRun records the terminal outcome of a sync run.
func RecordSyncRun(syncType, scope, status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(syncType, scope, status).Inc()
	SyncDuration.WithLabelValues(syncType, status).Observe(duration.Seconds())
	if status == "completed" {
		SyncLastSuccess.WithLabelValues(syncType).SetToCurrentTime()
	}
}
