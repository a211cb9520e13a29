package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relaycall/relaycall/internal/observability"
	"go.uber.org/zap"
)

// responseWriter captures the status code and body size of the response that
// actually went out, for metrics and the request log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// getEndpointPattern returns the chi route pattern so metric labels stay
// low-cardinality. Requests that never hit the router fall back to a fixed
// table, with everything unrecognized collapsed into one bucket.
func getEndpointPattern(r *http.Request) string {
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
		return pattern
	}

	switch path := r.URL.Path; path {
	case "/health", "/health/live", "/health/ready", "/health/startup":
		return "/health/*"
	case "/version", "/metrics", "/":
		return path
	default:
		return "/unknown"
	}
}

// requestSize reads the declared Content-Length; a missing or malformed
// header counts as zero rather than skipping the gauge.
func requestSize(r *http.Request) int64 {
	contentLength := r.Header.Get("Content-Length")
	if contentLength == "" {
		return 0
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// RequestMetrics emits per-request telemetry (count, duration, sizes, error
// count) and a structured completion log line. With telemetry disabled the
// middleware is a passthrough.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		inBytes := requestSize(r)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := getEndpointPattern(r)
		emitRequestMetrics(r.Method, endpoint, wrapped, inBytes, duration)

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", inBytes),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

func emitRequestMetrics(method, endpoint string, wrapped *responseWriter, inBytes int64, duration time.Duration) {
	status := strconv.Itoa(wrapped.statusCode)
	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   status,
	}
	sizeLabels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
	}

	_ = observability.TelemetrySystem.Counter("http_requests_total", 1, labels)
	_ = observability.TelemetrySystem.Histogram("http_request_duration_ms", duration, labels)

	// Sizes are single observations per request, so gauges rather than
	// histograms.
	_ = observability.TelemetrySystem.Gauge("http_request_size_bytes", float64(inBytes), sizeLabels)
	_ = observability.TelemetrySystem.Gauge("http_response_size_bytes", float64(wrapped.bytesWritten), sizeLabels)

	if wrapped.statusCode >= 400 {
		errorType := "client_error"
		if wrapped.statusCode >= 500 {
			errorType = "server_error"
		}
		_ = observability.TelemetrySystem.Counter("http_errors_total", 1, map[string]string{
			"method":     method,
			"endpoint":   endpoint,
			"status":     status,
			"error_type": errorType,
		})
	}
}
