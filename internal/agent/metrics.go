package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	telemetryDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabwarden",
			Subsystem: "agent",
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry reports discarded after delivery failed or the queue was full.",
		},
		[]string{"kind"},
	)

	blockChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabwarden",
			Subsystem: "agent",
			Name:      "block_checks_total",
			Help:      "Pre-navigation block checks by outcome.",
		},
		[]string{"result"},
	)
)
