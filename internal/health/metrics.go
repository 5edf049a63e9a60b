package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type healthMetrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

var (
	healthMetricsInstance *healthMetrics
	healthMetricsOnce     sync.Once
)

func getHealthMetrics() *healthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &healthMetrics{
			checksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "routegw",
					Subsystem: "health",
					Name:      "checks_total",
					Help:      "Total number of health checks performed",
				},
				[]string{"kind", "result"},
			),
			checkStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "routegw",
					Subsystem: "health",
					Name:      "check_status",
					Help:      "Current health check status (1=healthy, 0=unhealthy)",
				},
				[]string{"check"},
			),
		}
	})
	return healthMetricsInstance
}

func recordCheck(name, kind string, healthy bool) {
	m := getHealthMetrics()
	result, value := "success", 1.0
	if !healthy {
		result, value = "failure", 0
	}
	m.checksTotal.WithLabelValues(kind, result).Inc()
	m.checkStatus.WithLabelValues(name).Set(value)
}
