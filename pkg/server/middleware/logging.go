package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/keyrelay/pkg/telemetry/logging"
)

// RequestRecorder receives one observation per completed request.
// Satisfied by *metrics.Collector.
type RequestRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
}

// unmatchedRoute labels requests no route pattern claimed.
const unmatchedRoute = "unmatched"

type routeKey struct{}

// routeLabel is filled in by the mux handler that serves the request.
type routeLabel struct {
	pattern string
}

// SetRoute records the route pattern serving the request so that logs and
// metrics use the pattern rather than the raw path.
func SetRoute(ctx context.Context, pattern string) {
	if l, ok := ctx.Value(routeKey{}).(*routeLabel); ok {
		l.pattern = pattern
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging writes one access log line per request and, when recorder is not
// nil, reports the request to it. 5xx responses log at error level and 4xx at
// warn.
func Logging(recorder RequestRecorder) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			label := &routeLabel{pattern: unmatchedRoute}
			ctx := context.WithValue(r.Context(), routeKey{}, label)
			rw := newResponseWriter(w)

			logger.DebugContext(ctx, "request started",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(start)
			level := slog.LevelInfo
			if rw.statusCode >= 500 {
				level = slog.LevelError
			} else if rw.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(ctx, level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", label.pattern,
				"status", rw.statusCode,
				"latency_ms", latency.Milliseconds(),
				"request_id", logging.GetRequestID(ctx),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)

			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, label.pattern, rw.statusCode, latency)
			}
		})
	}
}
