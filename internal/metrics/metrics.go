// Package metrics exports Prometheus metrics for the ML serving operator on
// controller-runtime's own registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Reconciliations tracks reconciliation count and outcome per kind.
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlendpoints_reconciliations_total",
			Help: "Total number of reconciliations by kind and result",
		},
		[]string{"kind", "namespace", "result"},
	)

	// ReconciliationDuration tracks reconciliation latency per kind.
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mlendpoints_reconciliation_duration_seconds",
			Help:    "Duration of reconciliations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "namespace"},
	)

	// ModelsByState tracks live Model objects by status.state.
	ModelsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mlendpoints_models_by_state",
			Help: "Number of Model objects by status.state",
		},
		[]string{"state", "namespace"},
	)

	// RolloutEvents tracks Model/EndpointConfig clone-and-replace rollouts.
	RolloutEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlendpoints_rollout_events_total",
			Help: "Total number of rolling-replacement rollouts by kind and reason",
		},
		[]string{"kind", "namespace", "reason"},
	)

	// VersionConflicts tracks resource-version conflicts retried via
	// client-go's RetryOnConflict.
	VersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlendpoints_version_conflicts_total",
			Help: "Total number of resource-version conflicts encountered during writes",
		},
		[]string{"kind", "namespace"},
	)

	// HealthDaemonChecks tracks the periodic Model readiness daemon.
	HealthDaemonChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mlendpoints_health_daemon_checks_total",
			Help: "Total number of Model health daemon checks by outcome",
		},
		[]string{"namespace", "outcome"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		Reconciliations,
		ReconciliationDuration,
		ModelsByState,
		RolloutEvents,
		VersionConflicts,
		HealthDaemonChecks,
	)
}

// RecordReconciliation records a reconciliation event.
func RecordReconciliation(kind, namespace, result string) {
	Reconciliations.WithLabelValues(kind, namespace, result).Inc()
}

// ObserveReconciliationDuration records reconciliation duration.
func ObserveReconciliationDuration(kind, namespace string, seconds float64) {
	ReconciliationDuration.WithLabelValues(kind, namespace).Observe(seconds)
}

// RecordModelState records the current count of Models in a given state.
func RecordModelState(state, namespace string, count float64) {
	ModelsByState.WithLabelValues(state, namespace).Set(count)
}

// RecordRollout records a rolling-replacement event.
func RecordRollout(kind, namespace, reason string) {
	RolloutEvents.WithLabelValues(kind, namespace, reason).Inc()
}

// RecordVersionConflict records a resource-version conflict retry.
func RecordVersionConflict(kind, namespace string) {
	VersionConflicts.WithLabelValues(kind, namespace).Inc()
}

// RecordHealthDaemonCheck records one daemon tick outcome (ready, waiting, failed).
func RecordHealthDaemonCheck(namespace, outcome string) {
	HealthDaemonChecks.WithLabelValues(namespace, outcome).Inc()
}
