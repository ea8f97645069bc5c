package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Document store Prometheus metrics.
var (
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Document store operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "op", "status"},
	)

	StoreDocuments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_documents",
			Help:      "Number of documents in the collection as last observed",
		},
		[]string{"collection"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by mode",
		},
		[]string{"mode"},
	)
)

var storeMetricsRegistered bool

// RegisterStoreMetrics registers Prometheus store and search metrics. Must be called once from main.
func RegisterStoreMetrics() {
	if storeMetricsRegistered {
		return
	}
	prometheus.MustRegister(StoreOperationDuration)
	prometheus.MustRegister(StoreDocuments)
	prometheus.MustRegister(SearchRequestsTotal)
	storeMetricsRegistered = true
}

// ObserveStoreOp records the duration and outcome of a store operation started at start.
func ObserveStoreOp(backend, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(backend, op, status).Observe(time.Since(start).Seconds())
}
