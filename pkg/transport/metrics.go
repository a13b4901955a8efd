package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/constellation/pkg/protocol"
)

var (
	metricEnvelopesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "transport",
		Name:      "envelopes_delivered_total",
		Help:      "Envelopes acknowledged by a remote worker, by kind.",
	}, []string{"kind"})
	metricAckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "constellation",
		Subsystem: "transport",
		Name:      "ack_latency_seconds",
		Help:      "Time from send to remote acknowledgement.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	metricEndpointsBroken = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "transport",
		Name:      "endpoints_broken_total",
		Help:      "Endpoints whose remote became unreachable.",
	})
	metricMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "transport",
		Name:      "malformed_envelopes_total",
		Help:      "Received messages that could not be decoded.",
	})
)

func observeDelivery(kind protocol.Kind, latency time.Duration) {
	metricEnvelopesDelivered.WithLabelValues(kind.String()).Inc()
	metricAckLatency.Observe(latency.Seconds())
}

func recordBroken() {
	metricEndpointsBroken.Inc()
}

func recordMalformed() {
	metricMalformed.Inc()
}
