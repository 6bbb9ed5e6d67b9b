package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of checkouts or orders that failed",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of persisted order status transitions",
	}, []string{"from", "to"})

	OrderCodeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_code_collisions_total",
		Help: "Total number of order code collisions that triggered regeneration",
	})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockReleaseSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_release_skipped_total",
		Help: "Total number of release lines skipped because the item no longer exists",
	})

	PaymentLinkAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_link_attempts_total",
		Help: "Total number of payment link requests by outcome",
	}, []string{"outcome"})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Total number of payment provider callbacks by outcome",
	}, []string{"outcome"})

	PaymentProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_latency_seconds",
		Help:    "Latency of calls to the payment provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ReconciledOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciled_orders_total",
		Help: "Total number of stale pending_payment orders processed by reconciliation",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
