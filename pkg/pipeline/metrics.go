package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "pipeline",
		Name:      "transitions_total",
		Help:      "Pipeline lifecycle transitions, by target state.",
	}, []string{"state"})
	metricSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "pipeline",
		Name:      "spawns_total",
		Help:      "Worker spawn handshakes, by outcome.",
	}, []string{"outcome"})
	metricSpawnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "constellation",
		Subsystem: "pipeline",
		Name:      "spawn_duration_seconds",
		Help:      "Time to complete a successful spawn handshake.",
		Buckets:   prometheus.DefBuckets,
	})
	metricLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "constellation",
		Subsystem: "pipeline",
		Name:      "load_duration_seconds",
		Help:      "Time from pipeline creation to first ready-to-display.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

func recordTransition(to State) {
	metricTransitions.WithLabelValues(to.String()).Inc()
}

func recordSpawn(outcome string) {
	metricSpawns.WithLabelValues(outcome).Inc()
}

func observeSpawn(d time.Duration) {
	metricSpawnDuration.Observe(d.Seconds())
}

func observeLoad(d time.Duration) {
	metricLoadDuration.Observe(d.Seconds())
}
