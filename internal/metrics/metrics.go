// Feedengine - Personalization & Discovery Feed Engine
// Copyright 2026 Civicstream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civicstream/feedengine

// Package metrics provides Prometheus instrumentation for feed
// generation, caching, candidate generators, and ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed serving metrics.
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total feed generation requests",
		},
		[]string{"outcome"}, // "ok", "cursor_expired", "error"
	)

	FeedLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_generation_duration_seconds",
			Help:    "End-to-end feed request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FeedCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Feed requests served from the ranked-list cache",
		},
	)

	FeedCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_misses_total",
			Help: "Feed requests requiring a full rebuild",
		},
	)

	FeedInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_cache_invalidations_total",
			Help: "Proactive feed cache invalidations from significant interactions",
		},
	)

	// Candidate generator metrics.
	GeneratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_generator_duration_seconds",
			Help:    "Per-generator candidate generation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"generator"},
	)

	GeneratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_generator_errors_total",
			Help: "Per-generator failures (skipped, not fatal to the feed)",
		},
		[]string{"generator"},
	)

	GeneratorCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_generator_candidates",
			Help:    "Candidates emitted per generator invocation",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"generator"},
	)

	// Ingestion metrics.
	IngestProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_interactions_processed_total",
			Help: "Interaction events fully processed",
		},
	)

	IngestDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_interactions_dropped_total",
			Help: "Malformed interaction events dropped",
		},
	)

	IngestFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_interactions_failed_total",
			Help: "Interaction events that failed processing and were retried",
		},
	)

	// Background recompute metrics.
	SimilarityRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "similarity_rebuild_duration_seconds",
			Help:    "Similarity index rebuild duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	TrendingRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trending_recompute_duration_seconds",
			Help:    "Trending snapshot recompute duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
	)

	ProfileRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_recomputes_total",
			Help: "Asynchronous profile recomputations triggered by invalidation",
		},
	)

	// Upstream client metrics.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Requests to the upstream content service",
		},
		[]string{"operation", "outcome"}, // outcome: "ok", "error", "open_circuit"
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream content service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveFeedRequest records the outcome and latency of one feed
// request.
func ObserveFeedRequest(outcome string, start time.Time) {
	FeedRequests.WithLabelValues(outcome).Inc()
	FeedLatency.Observe(time.Since(start).Seconds())
}

// ObserveGenerator records one generator invocation.
func ObserveGenerator(name string, start time.Time, candidates int, err error) {
	GeneratorDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		GeneratorErrors.WithLabelValues(name).Inc()
		return
	}
	GeneratorCandidates.WithLabelValues(name).Observe(float64(candidates))
}
