package integrity

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marshallshelly/pebble-integrity/pkg/runtime"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pebble",
			Subsystem: "integrity",
			Name:      "mutations_total",
			Help:      "Mutations by operation, kind and outcome.",
		},
		[]string{"op", "kind", "outcome"},
	)

	cascadeDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pebble",
			Subsystem: "integrity",
			Name:      "cascade_deletes_total",
			Help:      "Records removed by cascading deletes, by kind.",
		},
		[]string{"kind"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pebble",
			Subsystem: "integrity",
			Name:      "mutation_duration_seconds",
			Help:      "Mutation latency including persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"op"},
	)
)

// outcome returns the metrics label for a mutation result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, runtime.ErrValidation):
		return "validation"
	case errors.Is(err, runtime.ErrNotFound):
		return "not_found"
	case errors.Is(err, runtime.ErrDanglingReference):
		return "dangling_reference"
	case errors.Is(err, runtime.ErrCardinalityViolation):
		return "cardinality"
	case errors.Is(err, runtime.ErrDuplicateLink):
		return "duplicate_link"
	case errors.Is(err, runtime.ErrRestrictedDeletion):
		return "restricted"
	case errors.Is(err, runtime.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, runtime.ErrCyclicCascade):
		return "cyclic_cascade"
	case errors.Is(err, runtime.ErrStorageUnavailable):
		return "storage"
	case errors.Is(err, runtime.ErrUnknownEntityKind), errors.Is(err, runtime.ErrUnknownRelationship):
		return "unknown"
	}
	return "error"
}
