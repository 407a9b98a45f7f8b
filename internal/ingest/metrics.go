package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestsTotal counts ingestion requests.
	// Labels: category, outcome (success, error)
	IngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of ingestion requests",
		},
		[]string{"category", "outcome"},
	)

	// ChunksTotal counts chunks by outcome.
	// Labels: outcome (stored, failed)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks stored or failed during ingestion",
		},
		[]string{"outcome"},
	)

	// IngestDuration tracks end-to-end ingestion latency.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "candidate",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of ingestion requests in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
