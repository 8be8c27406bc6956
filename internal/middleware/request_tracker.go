package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
)

// RequestTracker logs one structured line per request.
type RequestTracker struct {
	log *logger.Logger
}

// NewRequestTracker creates a new request tracker middleware
func NewRequestTracker(log *logger.Logger) *RequestTracker {
	return &RequestTracker{log: log.Named("http.access")}
}

// Middleware returns an HTTP middleware that records status, size, and latency
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_bytes", requestSize,
				"response_bytes", rw.size,
				"request_id", chimw.GetReqID(r.Context()),
			}

			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				rt.log.Errorw("request", fields...)
			case rw.statusCode >= http.StatusBadRequest:
				rt.log.Warnw("request", fields...)
			default:
				rt.log.Infow("request", fields...)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
