package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the admission layer, order lifecycle and sweeper.
var (
	AdmissionBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_blocked_total",
			Help: "Requests rejected by the admission gate, by reason",
		},
		[]string{"reason"},
	)

	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created with an authorized payment hold",
		},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions, by target status",
		},
		[]string{"to"},
	)

	ProcessorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_processor_errors_total",
			Help: "Failed payment processor calls, by operation",
		},
		[]string{"op"},
	)

	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hold_sweep_runs_total",
			Help: "Times the hold sweeper has run",
		},
	)

	SweepExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hold_sweep_expired_total",
			Help: "Orders expired and voided by the sweeper",
		},
	)

	SweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hold_sweep_errors_total",
			Help: "Per-order failures during sweeps",
		},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(AdmissionBlockedTotal)
	prometheus.MustRegister(OrdersCreatedTotal)
	prometheus.MustRegister(OrderTransitionsTotal)
	prometheus.MustRegister(ProcessorErrorsTotal)
	prometheus.MustRegister(SweepRunsTotal)
	prometheus.MustRegister(SweepExpiredTotal)
	prometheus.MustRegister(SweepErrorsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}
