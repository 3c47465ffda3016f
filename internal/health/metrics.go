package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checkStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "formgate",
		Subsystem: "health",
		Name:      "check_status",
		Help:      "Current readiness check status (1=healthy, 0.5=degraded, 0=unhealthy)",
	},
	[]string{"check"},
)

func recordCheck(name string, status Status) {
	var v float64
	switch status {
	case StatusHealthy:
		v = 1
	case StatusDegraded:
		v = 0.5
	}
	checkStatus.WithLabelValues(name).Set(v)
}
