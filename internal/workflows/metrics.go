package workflows

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sweepFeatures counts backlog items analyzed by sweeps.
	// Labels: decision (YES, NO, REVIEW, ERROR)
	sweepFeatures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "sweep",
			Name:      "features_total",
			Help:      "Total backlog features analyzed by audit sweeps, by outcome",
		},
		[]string{"decision"},
	)

	// sweepsRecorded counts sweep summaries written to the audit trail.
	sweepsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "sweep",
			Name:      "runs_recorded_total",
			Help:      "Total audit sweep summaries appended to the audit trail",
		},
	)
)

// observeSweepFeature records one analyzed backlog item.
func observeSweepFeature(decision, absorbedErr string) {
	if decision == "" || absorbedErr != "" {
		decision = "ERROR"
	}
	sweepFeatures.WithLabelValues(decision).Inc()
}

// observeSweepRecorded records one persisted sweep summary.
func observeSweepRecorded() {
	sweepsRecorded.Inc()
}
