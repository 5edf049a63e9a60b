package ratelimit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type limiterMetrics struct {
	decisions     *prometheus.CounterVec
	redisErrors   prometheus.Counter
	redisDuration prometheus.Histogram
	trackedKeys   prometheus.Gauge
}

var (
	limiterMetricsInstance *limiterMetrics
	limiterMetricsOnce     sync.Once
)

func getLimiterMetrics() *limiterMetrics {
	limiterMetricsOnce.Do(func() {
		limiterMetricsInstance = &limiterMetrics{
			decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "routegw",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions by backend and result",
			}, []string{"backend", "result"}),
			redisErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "routegw",
				Subsystem: "ratelimit",
				Name:      "redis_errors_total",
				Help:      "Total number of Redis failures that let a request through",
			}),
			redisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "routegw",
				Subsystem: "ratelimit",
				Name:      "redis_duration_seconds",
				Help:      "Duration of Redis token bucket evaluations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			}),
			trackedKeys: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "routegw",
				Subsystem: "ratelimit",
				Name:      "local_keys",
				Help:      "Number of keys tracked by the local limiter",
			}),
		}
	})
	return limiterMetricsInstance
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
