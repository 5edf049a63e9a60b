package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type breakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

var (
	breakerMetricsInstance *breakerMetrics
	breakerMetricsOnce     sync.Once
)

func getBreakerMetrics() *breakerMetrics {
	breakerMetricsOnce.Do(func() {
		breakerMetricsInstance = &breakerMetrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "routegw",
				Subsystem: "circuitbreaker",
				Name:      "state",
				Help:      "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
			}, []string{"name"}),
			transitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "routegw",
				Subsystem: "circuitbreaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit breaker state changes",
			}, []string{"name", "from", "to"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "routegw",
				Subsystem: "circuitbreaker",
				Name:      "requests_total",
				Help:      "Total number of calls through circuit breakers by result",
			}, []string{"name", "result"}),
		}
	})
	return breakerMetricsInstance
}

func recordStateChange(name string, from, to State) {
	m := getBreakerMetrics()
	m.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
	m.state.WithLabelValues(name).Set(float64(to))
}
