package kv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "kv",
			Name:      "operations_total",
			Help:      "Total number of key-value store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "formgate",
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "Duration of key-value store operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	connectionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "kv",
			Name:      "connection_retries_total",
			Help:      "Total number of Redis connection retry attempts",
		},
	)

	fallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "formgate",
			Subsystem: "kv",
			Name:      "fallback_active",
			Help:      "1 when requests are served by the in-memory fallback store",
		},
	)
)
