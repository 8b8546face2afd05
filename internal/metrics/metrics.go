package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgpeers_operations_total",
			Help: "Peering operations by name and outcome",
		},
		[]string{"op", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wgpeers_operation_duration_seconds",
			Help:    "Peering operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	LeasesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wgpeers_leases_allocated_total",
			Help: "Addresses handed out to clients",
		},
	)

	// без метки сервера: имена задаёт вызывающий, кардинальность не ограничена
	PoolExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wgpeers_pool_exhausted_total",
			Help: "Client creations rejected because the server subnet had no free address",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wgpeers_http_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		Operations,
		OperationDuration,
		LeasesAllocated,
		PoolExhausted,
		HTTPRequests,
	)
}

// Handler: /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
