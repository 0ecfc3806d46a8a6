package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished analyze runs.
	// Labels: outcome (completed, failed)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of finished pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	// runDuration tracks end-to-end analyze latency.
	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of analyze runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	// stageDuration tracks how long each stage takes.
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// stageFailures counts stage executions that returned an error.
	stageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total number of stage executions absorbed as failures",
		},
		[]string{"step"},
	)

	// decisionsTotal counts final determinations.
	// Labels: decision (YES, NO, REVIEW)
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "decisions_total",
			Help:      "Total number of validation decisions by outcome",
		},
		[]string{"decision"},
	)

	// learningRecords counts memory records applied by learning runs.
	// Labels: kind (glossary, rule, fewshot, snippet)
	learningRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geogate",
			Subsystem: "pipeline",
			Name:      "learning_records_total",
			Help:      "Total number of memory records applied from feedback",
		},
		[]string{"kind"},
	)
)

// recordRun records a finished run.
func recordRun(outcome string, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(elapsed.Seconds())
}

// observeStage records one stage execution.
func observeStage(step Step, elapsed time.Duration, ok bool) {
	stageDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
	if !ok {
		stageFailures.WithLabelValues(string(step)).Inc()
	}
}

// recordDecision records the final determination of a run.
func recordDecision(decision Decision) {
	decisionsTotal.WithLabelValues(string(decision)).Inc()
}

// recordLearningCounts records applied memory updates per record kind.
func recordLearningCounts(counts map[string]int) {
	for kind, n := range counts {
		if n > 0 {
			learningRecords.WithLabelValues(kind).Add(float64(n))
		}
	}
}
