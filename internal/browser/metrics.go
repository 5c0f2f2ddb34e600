package browser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablecast",
		Subsystem: "browser",
		Name:      "active_sessions",
		Help:      "Browser processes currently owned by a request.",
	})
	launchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "browser",
		Name:      "launch_failures_total",
		Help:      "Browser launches that failed or timed out.",
	})
	launchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tablecast",
		Subsystem: "browser",
		Name:      "launch_seconds",
		Help:      "Time from launch to a responsive tab.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})
	releaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tablecast",
		Subsystem: "browser",
		Name:      "release_seconds",
		Help:      "Time taken to close a browser and reap its process.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)
