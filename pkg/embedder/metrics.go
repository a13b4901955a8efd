package embedder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "constellation",
	Subsystem: "embedder",
	Name:      "events_dropped_total",
	Help:      "Events not delivered to a subscriber whose buffer was full.",
})

func recordDropped() {
	metricDroppedEvents.Inc()
}
