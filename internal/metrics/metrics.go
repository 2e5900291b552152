package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceswitch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faceswitch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Photo pipeline metrics
	PhotosReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceswitch_photos_received_total",
			Help: "Total number of photo submissions received",
		},
	)

	PhotosRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceswitch_photos_rejected_total",
			Help: "Total number of photo submissions rejected before processing",
		},
		[]string{"reason"}, // grouped, delay, quota, gate, inflight
	)

	PhotosProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceswitch_photos_processed_total",
			Help: "Total number of photos run through the face worker",
		},
		[]string{"status"}, // success, worker_error, timeout, download_error
	)

	OutputsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceswitch_outputs_delivered_total",
			Help: "Total number of output images delivered to users",
		},
	)

	WorkerCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faceswitch_worker_call_duration_seconds",
			Help:    "Face worker call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// Quota metrics
	PremiumPurchasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceswitch_premium_purchases_total",
			Help: "Total number of premium purchases granted",
		},
	)

	QuotaResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceswitch_quota_resets_total",
			Help: "Total number of manual free-quota resets",
		},
	)

	// Scheduler metrics
	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faceswitch_reconcile_runs_total",
			Help: "Total number of entitlement reconciliation sweeps",
		},
		[]string{"status"}, // success, skipped, error
	)

	CleanupRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faceswitch_cleanup_removed_total",
			Help: "Total number of aged image action records removed",
		},
	)
)
