// Package middleware provides HTTP middleware for metrics collection.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OLJE901753/farmhand/internal/metrics"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		metrics.RecordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/tasks/") && strings.HasSuffix(path, "/cancel"):
		return "/api/tasks/:id/cancel"
	case strings.HasPrefix(path, "/api/tasks/"):
		return "/api/tasks/:id"
	case strings.HasPrefix(path, "/api/runs/") && strings.HasSuffix(path, "/result"):
		return "/api/runs/:id/result"
	case strings.HasPrefix(path, "/api/runs/") && strings.HasSuffix(path, "/progress"):
		return "/api/runs/:id/progress"
	case strings.HasPrefix(path, "/api/agents/") && strings.HasSuffix(path, "/heartbeat"):
		return "/api/agents/:id/heartbeat"
	case strings.HasPrefix(path, "/api/agents/") && strings.HasSuffix(path, "/poll"):
		return "/api/agents/:id/poll"
	default:
		return path
	}
}
