package retry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts retry attempts per route.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "routegw",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of retry attempts",
		},
		[]string{"route", "attempt"},
	)

	// RetryDuration measures the total duration of retried dispatches.
	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "routegw",
			Subsystem: "retry",
			Name:      "duration_seconds",
			Help:      "Total duration of dispatches under a retry policy in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "result"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "routegw",
			Subsystem: "retry",
			Name:      "backoff_duration_seconds",
			Help:      "Duration of backoff waits in seconds",
			Buckets:   []float64{0.005, 0.01, 0.02, 0.04, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"route"},
	)
)

// RecordRetryAttempt records a retry attempt.
func RecordRetryAttempt(route string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(route, strconv.Itoa(attempt)).Inc()
}

// RecordRetryDuration records the total duration of a retried dispatch.
func RecordRetryDuration(route string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	RetryDuration.WithLabelValues(route, result).Observe(d.Seconds())
}

// RecordBackoffDuration records a backoff wait duration.
func RecordBackoffDuration(route string, d time.Duration) {
	RetryBackoffDuration.WithLabelValues(route).Observe(d.Seconds())
}
