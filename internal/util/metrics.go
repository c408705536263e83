package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_committed_total",
		Help: "Total number of sales committed locally",
	}, []string{"payment_method"})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_failed_total",
		Help: "Total number of sale commits that were rolled back",
	}, []string{"reason"})

	SalesReversedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_reversed_total",
		Help: "Total number of voided or refunded sales",
	}, []string{"status"})

	SaleCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_sale_commit_latency_seconds",
		Help:    "Latency of the local sale commit transaction",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	SyncDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_deliveries_total",
		Help: "Outbox delivery attempts by result",
	}, []string{"result"})

	SyncDeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_delivery_latency_seconds",
		Help:    "Latency of a single packet delivery",
		Buckets: prometheus.DefBuckets,
	})

	SyncQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Outbox rows by status",
	}, []string{"status"})

	SyncOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_online",
		Help: "1 when the last connectivity probe succeeded",
	})

	PacketsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_packets_ingested_total",
		Help: "Packets received by the sync receiver by result",
	}, []string{"result"})

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
