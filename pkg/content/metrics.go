package content

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricLiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "constellation",
	Subsystem: "content",
	Name:      "live_workers",
	Help:      "Script and layout workers currently running on this host.",
})

func recordLive(n int) {
	metricLiveWorkers.Set(float64(n))
}
