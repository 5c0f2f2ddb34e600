package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome (ok or the error kind).",
	}, []string{"outcome"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "run_seconds",
		Help:      "Wall time of a pipeline run including browser launch and release.",
		Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 24, 32, 48, 64},
	})
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "step_seconds",
		Help:      "Time spent in each pipeline step.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"step"})
	extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "extractions_total",
		Help:      "Artifacts produced, by the extraction strategy that succeeded.",
	}, []string{"strategy"})
	styleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "style_outcomes_total",
		Help:      "Style configuration attempts by result (applied or degraded) and the state reached.",
	}, []string{"result", "state"})
	obstructionsCleared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "pipeline",
		Name:      "obstructions_cleared_total",
		Help:      "Runs where a consent or modal dismissal was attempted.",
	})
)
