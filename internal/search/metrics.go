package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts searches by retrieval path.
	// Labels: path (weighted, basic, none, cached, error)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of searches by retrieval path",
		},
		[]string{"path"},
	)

	// SearchDuration tracks end-to-end search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "candidate",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of searches in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// ResultsReturned tracks how many results a search returns.
	ResultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "candidate",
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of ranked results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// DegradedTotal counts searches where a dependency failed and a fallback
	// was used.
	// Labels: stage (embedding, settings)
	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches that degraded because a dependency failed",
		},
		[]string{"stage"},
	)
)
