package constellation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "constellation"

var (
	metricSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_spawned_total",
		Help:      "Pipelines created by navigations, traversals and reloads.",
	})

	metricDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_discarded_total",
		Help:      "Pipelines discarded, by reason.",
	}, []string{"reason"})

	metricLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipelines_live",
		Help:      "Pipelines not yet discarded, placeholders included.",
	})

	metricWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "windows_open",
		Help:      "Top-level browsing contexts.",
	})

	metricFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_faults_total",
		Help:      "Contained pipeline failures, by error code.",
	}, []string{"code"})

	metricStaleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_failures_total",
		Help:      "Failure reports for pipelines that were already discarded.",
	})

	metricNavigations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigations_committed_total",
		Help:      "Navigations that reached activation, by how history recorded them.",
	}, []string{"kind"})

	metricSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigations_superseded_total",
		Help:      "Pending navigations replaced before they became ready.",
	})

	metricTraversals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traversals_total",
		Help:      "History traversals, by outcome.",
	}, []string{"outcome"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Worker messages ignored because the sender is stale.",
	}, []string{"kind"})

	metricInputDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "input_dropped_total",
		Help:      "Input events whose target no longer occupies its context.",
	})

	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_rejected_total",
		Help:      "Pipeline creations refused by the pipeline limit.",
	})

	metricSpawnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "spawn_request_duration_seconds",
		Help:      "Time from spawn request to workers or failure, seen from the loop.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	metricPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_panics_total",
		Help:      "Panics recovered on the constellation loop.",
	})
)
