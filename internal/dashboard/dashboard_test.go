package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
	"github.com/OLJE901753/farmhand/internal/queue"
	"github.com/OLJE901753/farmhand/internal/repository"
	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDashboard(t *testing.T) (*Dashboard, *orchestrator.Orchestrator, *repository.MockRepository) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := queue.NewQueue(mr.Addr())
	require.NoError(t, err)

	repo := repository.NewMockRepository()
	registry := agent.NewRegistry(repo, time.Minute)
	events := event.NewLog(event.DefaultCapacity, repo)

	orch := orchestrator.New(repo, q, registry, events, nil, orchestrator.Config{
		TickInterval:  10 * time.Millisecond,
		SweepInterval: time.Hour,
		PurgeInterval: time.Hour,
	})
	orch.Start()

	t.Cleanup(func() {
		orch.Stop()
		_ = q.Close()
		mr.Close()
	})
	return NewDashboard(orch, repo), orch, repo
}

func TestGetStats_Empty(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	dash.GetStats(w, req)

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.PendingTasks)
	assert.Equal(t, int64(0), stats.QueueDepth)
	assert.NotZero(t, stats.LastUpdated)
}

func TestGetStats_CountsTasks(t *testing.T) {
	dash, orch, _ := setupTestDashboard(t)

	tk := task.NewTask("crop_analysis", "crop_analysis", nil, task.PriorityNormal)
	_, _, err := orch.Submit(context.Background(), tk)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	dash.GetStats(w, req)

	require.Equal(t, 200, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.PendingTasks)
}

func TestGetStats_RepositoryError(t *testing.T) {
	dash, _, repo := setupTestDashboard(t)
	repo.QueueStatsError = errors.New("db down")

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	dash.GetStats(w, req)

	assert.Equal(t, 500, w.Code)
}

func TestGetEvents_DefaultLimit(t *testing.T) {
	dash, orch, _ := setupTestDashboard(t)

	tk := task.NewTask("crop_analysis", "crop_analysis", nil, task.PriorityNormal)
	_, _, err := orch.Submit(context.Background(), tk)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/events", nil)
	w := httptest.NewRecorder()
	dash.GetEvents(w, req)

	require.Equal(t, 200, w.Code)

	var events []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, event.TaskQueued, events[0].Type)
}

func TestGetEvents_EmptyLogReturnsArray(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	req := httptest.NewRequest("GET", "/api/events", nil)
	w := httptest.NewRecorder()
	dash.GetEvents(w, req)

	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetAgents(t *testing.T) {
	dash, orch, _ := setupTestDashboard(t)
	ctx := context.Background()

	caps := []agent.Capability{{Type: "crop_analysis", Version: "1.0", MaxConcurrency: 2}}
	require.NoError(t, orch.RegisterAgent(ctx, &agent.Agent{ID: "agent-1", Name: "agent-1", Capabilities: caps}))
	require.NoError(t, orch.Heartbeat(ctx, "agent-1", caps, 42, "1.0.0"))

	req := httptest.NewRequest("GET", "/api/agents", nil)
	w := httptest.NewRecorder()
	dash.GetAgents(w, req)

	require.Equal(t, 200, w.Code)

	var views []AgentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "agent-1", views[0].AgentID)
	assert.Equal(t, 42.0, views[0].LoadPercentage)
	assert.Equal(t, []string{"crop_analysis"}, views[0].Capabilities)
}
