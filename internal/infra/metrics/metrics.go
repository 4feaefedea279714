// Package metrics provides Prometheus metrics for propcore — counters,
// gauges, and histograms for ingestion, the store, scoring, and the LLM.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ingestion ──────────────────────────────────────────────────────────────

// IngestCycles counts completed ingestion cycles by outcome (ok/failed).
var IngestCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "ingest_cycles_total",
	Help:      "Total ingestion cycles by outcome.",
}, []string{"outcome"})

// IngestCycleDuration tracks full-cycle duration in seconds.
var IngestCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "propcore",
	Name:      "ingest_cycle_duration_seconds",
	Help:      "Ingestion cycle duration in seconds.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
})

// FetchOutcomes counts upstream fetch results by kind
// (ok, rate_limited, blocked, transport, parse).
var FetchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "upstream_fetch_total",
	Help:      "Upstream fetch attempts by outcome kind.",
}, []string{"kind"})

// ConversionErrors counts projection rows that failed validation.
var ConversionErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "projection_conversion_errors_total",
	Help:      "Projection records skipped due to validation failures.",
})

// CacheHits counts response-cache hits and misses.
var CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "response_cache_total",
	Help:      "Response cache lookups by result (hit/miss).",
}, []string{"result"})

// ─── Store ──────────────────────────────────────────────────────────────────

// ProjectionsStored tracks the current-view row count.
var ProjectionsStored = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "propcore",
	Name:      "projections_stored",
	Help:      "Projection rows in the current view.",
})

// UpsertBatches counts upsert batches written by the ingestion engine.
var UpsertBatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "upsert_batches_total",
	Help:      "Projection upsert batches written.",
})

// ─── Scoring ────────────────────────────────────────────────────────────────

// ScoringLatency tracks ensemble ranking duration in seconds.
var ScoringLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "propcore",
	Name:      "scoring_latency_seconds",
	Help:      "Ensemble ranking duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// ScorersReady tracks the number of ready scorers.
var ScorersReady = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "propcore",
	Name:      "scorers_ready",
	Help:      "Number of scorers in the ready state.",
})

// ScorerFailures counts scorers that transitioned to failed.
var ScorerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "scorer_failures_total",
	Help:      "Scorer failures by scorer name.",
}, []string{"scorer"})

// ─── LLM ────────────────────────────────────────────────────────────────────

// LLMLatency tracks explanation generation duration in seconds.
var LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "propcore",
	Name:      "llm_latency_seconds",
	Help:      "LLM generation duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"model"})

// LLMFallbacks counts explanations served from the deterministic fallback.
var LLMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "propcore",
	Name:      "llm_fallbacks_total",
	Help:      "Explanations served from the fallback path.",
})
