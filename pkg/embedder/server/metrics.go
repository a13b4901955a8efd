package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Embedder API requests by route and status.",
	}, []string{"method", "route", "status"})

	metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "constellation",
		Subsystem: "server",
		Name:      "request_duration_seconds",
		Help:      "Embedder API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	metricStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "constellation",
		Subsystem: "server",
		Name:      "event_streams",
		Help:      "Open websocket event streams.",
	})
)

func observeRequest(r *http.Request, status int, d time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	metricRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	metricRequestDuration.WithLabelValues(r.Method, route).Observe(d.Seconds())
}
