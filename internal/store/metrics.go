package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend, operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of chunk store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "candidate",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of chunk store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// SkippedRecordsTotal counts records rejected on insert.
	SkippedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candidate",
			Subsystem: "store",
			Name:      "skipped_records_total",
			Help:      "Records skipped on insert because of a dimension mismatch",
		},
		[]string{"backend"},
	)
)

// observe records an operation; errp is read when the deferred call runs.
func observe(backend, operation string, start time.Time, errp *error) {
	result := "success"
	if errp != nil && *errp != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, result).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
