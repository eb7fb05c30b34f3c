// Package dashboard implements the monitoring endpoints for queue depth,
// task throughput and fleet status.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/httputil"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
	"github.com/OLJE901753/farmhand/internal/repository"
)

type Dashboard struct {
	orch *orchestrator.Orchestrator
	repo repository.Repository
}

type Stats struct {
	PendingTasks       int            `json:"pending_tasks"`
	RunningTasks       int            `json:"running_tasks"`
	CompletedTasks     int            `json:"completed_tasks"`
	FailedTasks        int            `json:"failed_tasks"`
	CancelledTasks     int            `json:"cancelled_tasks"`
	TasksByType        map[string]int `json:"tasks_by_type"`
	QueueDepth         int64          `json:"queue_depth"`
	DelayedDepth       int64          `json:"delayed_depth"`
	AvgExecutionTimeMs float64        `json:"avg_execution_time_ms"`
	AvgWaitTimeMs      float64        `json:"avg_wait_time_ms"`
	AgentsAvailable    int            `json:"agents_available"`
	LastUpdated        time.Time      `json:"last_updated"`
}

type AgentView struct {
	AgentID        string   `json:"agent_id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Health         string   `json:"health"`
	LoadPercentage float64  `json:"load_percentage"`
	Capabilities   []string `json:"capabilities"`
}

func NewDashboard(orch *orchestrator.Orchestrator, repo repository.Repository) *Dashboard {
	return &Dashboard{orch: orch, repo: repo}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, r *http.Request) {
	qs, err := d.orch.Stats(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats := Stats{
		PendingTasks:       qs.Pending,
		RunningTasks:       qs.Running,
		CompletedTasks:     qs.Completed,
		FailedTasks:        qs.Failed,
		CancelledTasks:     qs.Cancelled,
		TasksByType:        qs.TasksByType,
		AvgExecutionTimeMs: qs.AvgExecutionTimeMs,
		AvgWaitTimeMs:      qs.AvgWaitTimeMs,
		AgentsAvailable:    len(d.orch.ListAgents("")),
		LastUpdated:        time.Now(),
	}

	pending, delayed, err := d.orch.QueueDepths()
	if err == nil {
		stats.QueueDepth = pending
		stats.DelayedDepth = delayed
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (d *Dashboard) GetAgents(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	candidates := d.orch.ListAgents(capability)

	views := []AgentView{}
	for _, c := range candidates {
		caps := make([]string, 0, len(c.Agent.Capabilities))
		for _, cp := range c.Agent.Capabilities {
			caps = append(caps, cp.Type)
		}
		views = append(views, AgentView{
			AgentID:        c.Agent.ID,
			Name:           c.Agent.Name,
			Type:           c.Agent.Type,
			Health:         string(c.Health),
			LoadPercentage: c.Load,
			Capabilities:   caps,
		})
	}

	httputil.WriteJSON(w, http.StatusOK, views)
}

func (d *Dashboard) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := d.orch.Events(limit)
	if events == nil {
		events = []*event.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
