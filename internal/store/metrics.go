package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
}

var (
	storeMetricsInstance *storeMetrics
	storeMetricsOnce     sync.Once
)

func getStoreMetrics() *storeMetrics {
	storeMetricsOnce.Do(func() {
		storeMetricsInstance = &storeMetrics{
			operationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "routegw",
					Subsystem: "store",
					Name:      "operations_total",
					Help:      "Total number of route store operations",
				},
				[]string{"backend", "operation", "result"},
			),
			operationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "routegw",
					Subsystem: "store",
					Name:      "operation_duration_seconds",
					Help:      "Duration of route store operations",
					Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
				},
				[]string{"backend", "operation"},
			),
			retriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "routegw",
					Subsystem: "store",
					Name:      "retries_total",
					Help:      "Total number of retried route store operations",
				},
				[]string{"backend", "operation"},
			),
		}
	})
	return storeMetricsInstance
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
