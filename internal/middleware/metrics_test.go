package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "short and stout", w.Body.String())
}

func TestMetricsMiddleware_DefaultStatus(t *testing.T) {
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"/api/tasks/abc-123":            "/api/tasks/:id",
		"/api/tasks/abc-123/cancel":     "/api/tasks/:id/cancel",
		"/api/runs/run-9/result":        "/api/runs/:id/result",
		"/api/runs/run-9/progress":      "/api/runs/:id/progress",
		"/api/agents/agent-1/heartbeat": "/api/agents/:id/heartbeat",
		"/api/agents/agent-1/poll":      "/api/agents/:id/poll",
		"/api/tasks":                    "/api/tasks",
		"/api/stats":                    "/api/stats",
		"/metrics":                      "/metrics",
	}

	for path, want := range cases {
		assert.Equal(t, want, normalizeEndpoint(path), "path %s", path)
	}
}
