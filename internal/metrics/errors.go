package metrics

import (
	"strconv"

	"github.com/reelsync/reelsync/internal/observability"
)

// Error metric names
var (
	ErrorsTotal      = "app_errors_total"
	PanicsTotal      = "app_panics_total"
	ErrorsByEndpoint = "app_errors_by_endpoint"
)

// RecordError records an error envelope by code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsTotal,
			1,
			map[string]string{
				"error_code":  errorCode,
				"http_status": strconv.Itoa(httpStatus),
			},
		)
	}
}

// RecordPanic records a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, nil)
	}
}

// RecordErrorByEndpoint attributes an error to the endpoint that produced it.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsByEndpoint,
			1,
			map[string]string{
				"endpoint":   endpoint,
				"error_code": errorCode,
			},
		)
	}
}
