package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "formgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	panicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "http",
			Name:      "panics_recovered_total",
			Help:      "Total number of panics recovered by middleware",
		},
	)

	corsPreflightTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "http",
			Name:      "cors_preflight_total",
			Help:      "Total number of CORS preflight requests by outcome",
		},
		[]string{"outcome"},
	)
)

func recordRequest(method string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
