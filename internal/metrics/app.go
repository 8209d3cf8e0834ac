package metrics

import (
	"github.com/reelsync/reelsync/internal/observability"
)

// Application metric names following Prometheus conventions
var (
	SyncOperationsTotal      = "app_sync_operations_total"
	SyncPassesTotal          = "app_sync_passes_total"
	QueueLength              = "app_sync_queue_length"
	CacheLookupsTotal        = "app_cache_lookups_total"
	RateLimitRejectionsTotal = "app_rate_limit_rejections_total"
)

// RecordSyncOperation records the outcome of one replayed operation.
// Outcome is "success", "retried", or "dropped".
func RecordSyncOperation(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SyncOperationsTotal,
			1,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordSyncPass records a completed replay pass.
func RecordSyncPass(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SyncPassesTotal,
			1,
			map[string]string{"status": status},
		)
	}
}

// SetQueueLength sets the current pending-operation gauge.
func SetQueueLength(length int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			QueueLength,
			float64(length),
			nil,
		)
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordRateLimitRejection records a rejected admission for an endpoint class.
func RecordRateLimitRejection(endpointClass string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitRejectionsTotal,
			1,
			map[string]string{"endpoint": endpointClass},
		)
	}
}
