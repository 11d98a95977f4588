package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aex",
			Subsystem: "marketplace",
			Name:      "operations_total",
			Help:      "Marketplace operations by outcome code.",
		},
		[]string{"operation", "code"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aex",
			Subsystem: "marketplace",
			Name:      "operation_duration_seconds",
			Help:      "Marketplace operation duration in seconds, external calls included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aex",
			Subsystem: "marketplace",
			Name:      "rollbacks_total",
			Help:      "Operations rolled back after a failed external transfer.",
		},
		[]string{"operation"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operations, operationDuration, rollbacks, httpRequests, httpDuration)
	})
}

// RecordOperation counts one marketplace operation; code is "OK" or an error kind
func RecordOperation(operation, code string, duration time.Duration) {
	RegisterMetrics()
	operations.WithLabelValues(operation, code).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordRollback(operation string) {
	RegisterMetrics()
	rollbacks.WithLabelValues(operation).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
