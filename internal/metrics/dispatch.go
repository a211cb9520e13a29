package metrics

import (
	"strconv"
	"time"

	"github.com/relaycall/relaycall/internal/observability"
)

// Dispatch pipeline metrics following Prometheus conventions
var (
	DispatchCallsTotal   = "dispatch_calls_total"
	DispatchRetriesTotal = "dispatch_retries_total"
	DispatchDuration     = "dispatch_duration_ms"
	LimiterWaitTotal     = "limiter_wait_timeouts_total"
)

// RecordDispatch records one resolved call with its terminal outcome.
func RecordDispatch(endpoint string, outcome string, attempts int, elapsed time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		DispatchCallsTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"outcome":  outcome,
			"attempts": strconv.Itoa(attempts),
		},
	)

	_ = observability.TelemetrySystem.Histogram(
		DispatchDuration,
		elapsed,
		map[string]string{
			"endpoint": endpoint,
			"outcome":  outcome,
		},
	)
}

// RecordRetry records a scheduled retry and the failure kind that caused it.
func RecordRetry(endpoint string, kind string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		DispatchRetriesTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"kind":     kind,
		},
	)
}

// RecordLimiterTimeout records a call that timed out waiting on the limiter.
func RecordLimiterTimeout(endpoint string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		LimiterWaitTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
		},
	)
}
