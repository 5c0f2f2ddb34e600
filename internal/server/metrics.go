package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status code.",
	}, []string{"route", "code"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablecast",
		Subsystem: "http",
		Name:      "auth_failures_total",
		Help:      "Requests rejected by bearer token checks.",
	}, []string{"reason"})
)
