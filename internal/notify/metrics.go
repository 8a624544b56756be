package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabwarden",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Events dropped because the dispatch buffer was full or closed.",
	}, []string{"kind"})

	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tabwarden",
		Subsystem: "notify",
		Name:      "delivered_total",
		Help:      "Events handed to the sink, by outcome.",
	}, []string{"kind", "result"})
)
