package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commands = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tablecast",
	Subsystem: "chat",
	Name:      "commands_total",
	Help:      "Table commands seen, by how they were handled.",
}, []string{"result"})
