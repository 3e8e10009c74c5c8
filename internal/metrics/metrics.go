// Merchdash - Commerce Catalog Mirror and Member Messaging
// Copyright 2026 Merchdash Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/merchdash/merchdash

// Package metrics provides Prometheus instrumentation for Merchdash:
// ingestion sweeps, upstream API calls, batch dispatch, the circuit breaker,
// and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync metrics

	SyncPagesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_sync_pages_committed_total",
			Help: "Total pages durably written and cursor-advanced, per stream",
		},
		[]string{"stream"},
	)

	SyncRecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_sync_records_upserted_total",
			Help: "Total records upserted into the local store, per stream",
		},
		[]string{"stream"},
	)

	SyncRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_sync_records_skipped_total",
			Help: "Records dropped during a sweep because they could not be mapped to a storage key",
		},
		[]string{"stream"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_sync_errors_total",
			Help: "Sweep failures by stream and stage (fetch, write, cursor)",
		},
		[]string{"stream", "stage"},
	)

	SyncSweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchdash_sync_sweep_duration_seconds",
			Help:    "Duration of one full sweep over a stream",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stream"},
	)

	SyncTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merchdash_sync_ticks_skipped_total",
			Help: "Scheduler ticks skipped because the previous sweep was still running",
		},
	)

	// Dispatch metrics

	DispatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_dispatch_sends_total",
			Help: "Per-recipient dispatch outcomes by result (success, failed, unresolved)",
		},
		[]string{"result"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merchdash_dispatch_duration_seconds",
			Help:    "Duration of one dispatch invocation, all chunks included",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	DispatchChunkSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merchdash_dispatch_chunk_size",
			Help:    "Recipients per dispatched chunk",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
	)

	// Upstream client metrics

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchdash_upstream_request_duration_seconds",
			Help:    "Duration of upstream API calls by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	UpstreamRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_upstream_request_errors_total",
			Help: "Transport-level upstream API failures by operation",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "merchdash_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome (success/failure/rejected)",
		},
		[]string{"name", "outcome"},
	)

	// HTTP metrics

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchdash_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	// Database metrics

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchdash_db_query_errors_total",
			Help: "Store query failures by operation",
		},
		[]string{"operation"},
	)
)

// RecordSweep observes a completed sweep for a stream.
func RecordSweep(stream string, d time.Duration) {
	SyncSweepDuration.WithLabelValues(stream).Observe(d.Seconds())
}

// ObserveUpstream times an upstream call and records a transport failure
// when err is non-nil.
func ObserveUpstream(operation string, start time.Time, err error) {
	UpstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		UpstreamRequestErrors.WithLabelValues(operation).Inc()
	}
}
