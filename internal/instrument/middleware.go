// Package instrument provides the HTTP middleware adapter that feeds API
// call telemetry into a delivery client. It works with net/http and any
// chi-compatible router; when a chi route context is present the route
// pattern is recorded instead of the raw path, so events aggregate per
// route rather than per concrete URL.
package instrument

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/apitrail/apitrail-go/internal/event"
	"github.com/apitrail/apitrail-go/internal/runtime"
)

// Middleware records one telemetry event per request: method, path, status
// code, duration, request/response sizes, and the derived consumer
// identity. Tracking is fire-and-forget; the wrapped handler is never
// affected by delivery problems.
func Middleware(client *runtime.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			ev := event.Event{
				Method:         r.Method,
				Path:           recordedPath(client, r),
				StatusCode:     ww.status,
				ResponseTimeMS: float64(time.Since(start)) / float64(time.Millisecond),
				ResponseSize:   ww.bytes,
				ConsumerID:     client.ConsumerFor(r),
			}
			if r.ContentLength > 0 {
				ev.RequestSize = r.ContentLength
			}

			client.Track(ev)
		})
	}
}

// recordedPath prefers the chi route pattern so path parameters collapse
// into one series. The query string is only included for raw paths and
// only when the client is configured to collect it.
func recordedPath(client *runtime.Client, r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	if client.CollectsQueryString() && r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// responseWriter captures the status code and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += int64(n)
	return n, err
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher, preserving streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
