package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Video-API Metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "uploads_total",
			Help:      "Total video uploads by target path",
		},
		[]string{"target", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"target"},
	)

	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "store_operations_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "store_duration_seconds",
			Help:      "Object store operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "webhook_events_total",
			Help:      "Total transcoding webhook events",
		},
		[]string{"type", "outcome"},
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "video_status_transitions_total",
			Help:      "Total video lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	ReconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "reconcile_passes_total",
			Help:      "Total reconciliation passes",
		},
		[]string{"pass", "status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "video_api",
			Name:      "notifications_total",
			Help:      "Total ready notifications enqueued",
		},
		[]string{"status"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordUpload records a video upload attempt
func RecordUpload(target, status string, bytes int64) {
	UploadsTotal.WithLabelValues(target, status).Inc()
	if bytes > 0 {
		UploadBytesTotal.WithLabelValues(target).Add(float64(bytes))
	}
}

// RecordStoreOperation records an object store operation
func RecordStoreOperation(operation, status string, durationSec float64) {
	StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	StoreDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordWebhookEvent records a webhook event outcome
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordStatusTransition records a video state transition
func RecordStatusTransition(from, to string) {
	StatusTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordReconcilePass records one reconciler pass outcome
func RecordReconcilePass(pass, status string) {
	ReconcilePassesTotal.WithLabelValues(pass, status).Inc()
}

// RecordNotification records a ready-notification delivery attempt
func RecordNotification(status string) {
	NotificationsTotal.WithLabelValues(status).Inc()
}
