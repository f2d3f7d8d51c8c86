// Package metrics provides Prometheus metrics for search ingestion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestionsTotal counts ingestion attempts by outcome
	// (ok, invalid, provider_unavailable, quota_exceeded, store_error).
	IngestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadfinder",
			Subsystem: "ingest",
			Name:      "searches_total",
			Help:      "Total number of search ingestions by outcome",
		},
		[]string{"outcome"},
	)

	// IngestionDuration tracks end-to-end ingestion time in seconds.
	IngestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leadfinder",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of search ingestions in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// BusinessesTotal counts businesses handled by ingestion, split into
	// newly created rows and already-known rows that were only linked.
	BusinessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadfinder",
			Subsystem: "ingest",
			Name:      "businesses_total",
			Help:      "Total number of businesses ingested by kind",
		},
		[]string{"kind"},
	)

	// ConflictRetries counts transactions retried after a place id race.
	ConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "leadfinder",
			Subsystem: "ingest",
			Name:      "conflict_retries_total",
			Help:      "Total number of ingestion transactions retried after a uniqueness conflict",
		},
	)

	// ProviderRequestsTotal counts place provider calls by status.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadfinder",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of place provider requests by status",
		},
		[]string{"provider", "status"},
	)

	// ProviderBreakerOpen is 1 while a provider's circuit breaker rejects or
	// probes calls.
	ProviderBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "leadfinder",
			Subsystem: "provider",
			Name:      "breaker_open",
			Help:      "Whether the provider circuit breaker is open (1) or closed (0)",
		},
		[]string{"provider"},
	)

	// EnrichmentsTotal counts website enrichments by result
	// (skipped, failed, cached, no_email, email).
	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadfinder",
			Subsystem: "enrich",
			Name:      "websites_total",
			Help:      "Total number of website enrichments by result",
		},
		[]string{"result"},
	)
)
