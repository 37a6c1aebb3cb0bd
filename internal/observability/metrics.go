// Package observability exposes Prometheus metrics for the walk engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesAcceptedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walk_service",
		Subsystem: "tracker",
		Name:      "samples_accepted_total",
		Help:      "Number of position samples accepted into routes.",
	})

	samplesRejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walk_service",
		Subsystem: "tracker",
		Name:      "samples_rejected_total",
		Help:      "Number of position samples rejected, by reason.",
	}, []string{"reason"})

	stateTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walk_service",
		Subsystem: "tracker",
		Name:      "state_transitions_total",
		Help:      "Number of walk status transitions, by target status.",
	}, []string{"to"})

	activeWalksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walk_service",
		Subsystem: "tracker",
		Name:      "active_walks",
		Help:      "Number of walks currently recording or paused.",
	})

	syncFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walk_service",
		Subsystem: "sync",
		Name:      "remote_failures_total",
		Help:      "Number of remote store failures, by operation and error kind.",
	}, []string{"op", "kind"})

	walkSavedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walk_service",
		Subsystem: "sync",
		Name:      "last_walk_saved_timestamp_seconds",
		Help:      "Unix timestamp of the most recent walk written to the local cache.",
	})

	pendingSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walk_service",
		Subsystem: "sync",
		Name:      "pending_remote_writes",
		Help:      "Number of cached walks still awaiting a successful remote write.",
	})
)

func init() {
	prometheus.MustRegister(
		samplesAcceptedCounter,
		samplesRejectedCounter,
		stateTransitionCounter,
		activeWalksGauge,
		syncFailureCounter,
		walkSavedGauge,
		pendingSyncGauge,
	)
}

// RecordSampleAccepted counts one accepted position sample.
func RecordSampleAccepted() {
	samplesAcceptedCounter.Inc()
}

// RecordSampleRejected counts one dropped position sample.
func RecordSampleRejected(reason string) {
	samplesRejectedCounter.WithLabelValues(reason).Inc()
}

// RecordStateTransition counts one status transition.
func RecordStateTransition(to string) {
	stateTransitionCounter.WithLabelValues(to).Inc()
}

// SetActiveWalks updates the active-walk gauge.
func SetActiveWalks(n int) {
	activeWalksGauge.Set(float64(n))
}

// RecordSyncFailure counts a remote store failure.
func RecordSyncFailure(op, kind string) {
	syncFailureCounter.WithLabelValues(op, kind).Inc()
}

// RecordWalkSaved updates the local persistence watermark.
func RecordWalkSaved(ts time.Time) {
	if ts.IsZero() {
		return
	}
	walkSavedGauge.Set(float64(ts.Unix()))
}

// SetPendingSync updates the pending remote writes gauge.
func SetPendingSync(n int) {
	pendingSyncGauge.Set(float64(n))
}
