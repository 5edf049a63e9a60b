package table

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type tableMetrics struct {
	routes          prometheus.Gauge
	failures        prometheus.Gauge
	version         prometheus.Gauge
	refreshesTotal  *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
}

var (
	tableMetricsInstance *tableMetrics
	tableMetricsOnce     sync.Once
)

func getTableMetrics() *tableMetrics {
	tableMetricsOnce.Do(func() {
		tableMetricsInstance = &tableMetrics{
			routes: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "routegw",
				Subsystem: "table",
				Name:      "routes",
				Help:      "Number of routes in the published routing table",
			}),
			failures: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "routegw",
				Subsystem: "table",
				Name:      "compile_failures",
				Help:      "Number of definitions that failed to compile in the published table",
			}),
			version: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "routegw",
				Subsystem: "table",
				Name:      "version",
				Help:      "Version of the published routing table",
			}),
			refreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "routegw",
				Subsystem: "table",
				Name:      "refreshes_total",
				Help:      "Total number of routing table refreshes",
			}, []string{"result"}),
			rebuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "routegw",
				Subsystem: "table",
				Name:      "rebuild_duration_seconds",
				Help:      "Duration of routing table rebuilds",
				Buckets:   prometheus.DefBuckets,
			}),
		}
	})
	return tableMetricsInstance
}
