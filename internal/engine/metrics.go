package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablecast",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Renders waiting for a worker.",
	})
	busyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablecast",
		Subsystem: "engine",
		Name:      "busy_workers",
		Help:      "Workers currently running a render.",
	})
	rejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "engine",
		Name:      "rejected_total",
		Help:      "Renders refused because the queue was full.",
	})
	abandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "engine",
		Name:      "abandoned_total",
		Help:      "Renders whose caller stopped waiting before a result arrived.",
	})
	queueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tablecast",
		Subsystem: "engine",
		Name:      "queue_wait_seconds",
		Help:      "Time a render spent queued before a worker picked it up.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
