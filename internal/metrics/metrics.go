// Package metrics holds the Prometheus collectors for the bridge engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScenarioRuns counts scenario and task-outcome runs by mode and result.
	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starbridge_scenario_runs_total",
		Help: "Scenario runs by mode (execute, rehearse, task) and result (success, partial)",
	}, []string{"mode", "result"})

	// ActionErrors counts actions that recorded an error, by action type.
	ActionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starbridge_action_errors_total",
		Help: "Actions that failed during execution or rehearsal, by type",
	}, []string{"mode", "type"})

	// CascadeEvents counts cascade_failure events by severity.
	CascadeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starbridge_cascade_events_total",
		Help: "Cascade notifications emitted for dependents, by severity",
	}, []string{"severity"})

	// DependencyCycles counts resolutions that hit a depends_on cycle.
	DependencyCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "starbridge_dependency_cycles_total",
		Help: "Effective-status resolutions that cut a dependency cycle",
	})

	// MutationDuration tracks state mutation latency including the cascade.
	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starbridge_mutation_duration_seconds",
		Help:    "State mutation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"kind"})
)

// Result maps an error count to the result label.
func Result(errCount int) string {
	if errCount == 0 {
		return "success"
	}
	return "partial"
}

// ObserveMutation records the time since start for an entity kind.
func ObserveMutation(kind string, start time.Time) {
	MutationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
