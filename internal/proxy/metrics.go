package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type proxyMetrics struct {
	errorsTotal      *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	forwardsTotal    *prometheus.CounterVec
}

var (
	proxyMetricsInstance *proxyMetrics
	proxyMetricsOnce     sync.Once
)

func getProxyMetrics() *proxyMetrics {
	proxyMetricsOnce.Do(func() {
		proxyMetricsInstance = &proxyMetrics{
			errorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "routegw",
					Subsystem: "proxy",
					Name:      "errors_total",
					Help:      "Total number of failed upstream calls",
				},
				[]string{"route", "error_type"},
			),
			upstreamDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "routegw",
					Subsystem: "proxy",
					Name:      "upstream_duration_seconds",
					Help:      "Duration of upstream calls, one observation per attempt",
					Buckets: []float64{
						.001, .005, .01, .025,
						.05, .1, .25, .5,
						1, 2.5, 5, 10,
					},
				},
				[]string{"route"},
			),
			forwardsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "routegw",
					Subsystem: "proxy",
					Name:      "local_forwards_total",
					Help:      "Total number of exchanges served by the local handler",
				},
				[]string{"path"},
			),
		}
	})
	return proxyMetricsInstance
}
