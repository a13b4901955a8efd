package compositor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "frame_updates_total",
		Help:      "Frame updates received from layout workers, by outcome.",
	}, []string{"outcome"})
	metricPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "frame_updates_pruned_total",
		Help:      "Retained frames dropped because their pipeline left the frame tree.",
	})
	metricScenes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "scenes_total",
		Help:      "Scenes handed to the backend, by outcome.",
	}, []string{"outcome"})
	metricLayers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "layers_total",
		Help:      "Layers composited, by kind.",
	}, []string{"kind"})
	metricPresentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "present_duration_seconds",
		Help:      "Time to build and submit the scenes of every window.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
	metricInputMissed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "compositor",
		Name:      "input_unrouted_total",
		Help:      "Pointer events that hit no content layer.",
	})
)

func recordUpdate(outcome string) {
	metricUpdates.WithLabelValues(outcome).Inc()
}

func recordLayer(k LayerKind) {
	metricLayers.WithLabelValues(k.String()).Inc()
}

func observePresent(d time.Duration) {
	metricPresentDuration.Observe(d.Seconds())
}
