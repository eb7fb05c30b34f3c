// Package api exposes the orchestrator over HTTP: task submission and
// lifecycle, agent registration and polling, run reporting, and the
// monitoring surface.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/dashboard"
	"github.com/OLJE901753/farmhand/internal/httputil"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
	"github.com/OLJE901753/farmhand/internal/repository"
	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	orch *orchestrator.Orchestrator
	repo repository.Repository
	dash *dashboard.Dashboard
	mux  *http.ServeMux
}

type SubmitTaskRequest struct {
	Type               string            `json:"type"`
	Payload            map[string]any    `json:"payload"`
	Priority           *task.Priority    `json:"priority"`
	IdempotencyKey     string            `json:"idempotency_key"`
	RequiredCapability string            `json:"required_capability"`
	TimeoutMs          *int              `json:"timeout_ms"`
	Retry              *task.RetryPolicy `json:"retry_policy"`
	ScheduleIn         *int              `json:"schedule_in"`
	TraceID            string            `json:"trace_id"`
}

type SubmitTaskResponse struct {
	TaskID  string `json:"task_id"`
	Created bool   `json:"created"`
}

type RegisterAgentRequest struct {
	AgentID      string             `json:"agent_id"`
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Capabilities []agent.Capability `json:"capabilities"`
	Version      string             `json:"version"`
	Config       map[string]any     `json:"config"`
}

type HeartbeatRequest struct {
	Capabilities   []agent.Capability `json:"capabilities"`
	LoadPercentage float64            `json:"load_percentage"`
	Version        string             `json:"version"`
}

type PollRequest struct {
	Max int `json:"max"`
}

type ReportRequest struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func NewAPI(orch *orchestrator.Orchestrator, repo repository.Repository) *API {
	api := &API{
		orch: orch,
		repo: repo,
		dash: dashboard.NewDashboard(orch, repo),
		mux:  http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)
	a.mux.HandleFunc("/api/agents", a.handleAgents)
	a.mux.HandleFunc("/api/agents/", a.handleAgentByID)
	a.mux.HandleFunc("/api/runs/", a.handleRunByID)

	a.mux.HandleFunc("/api/stats", a.dash.GetStats)
	a.mux.HandleFunc("/api/events", a.dash.GetEvents)

	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.submitTask(w, r)
}

func (a *API) submitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := task.NewTask(req.Type, req.RequiredCapability, req.Payload, task.PriorityNormal)
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.IdempotencyKey != "" {
		t.IdempotencyKey = req.IdempotencyKey
	}
	if req.TimeoutMs != nil {
		t.TimeoutMs = *req.TimeoutMs
	}
	if req.Retry != nil {
		t.Retry = *req.Retry
	}
	if req.ScheduleIn != nil {
		t.ScheduledAt = time.Now().Add(time.Duration(*req.ScheduleIn) * time.Second)
	}
	if req.TraceID != "" {
		t.TraceID = req.TraceID
	}

	taskID, created, err := a.orch.Submit(r.Context(), t)
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteJSONError(w, verr.Error(), http.StatusBadRequest)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, SubmitTaskResponse{TaskID: taskID, Created: created})
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if rest == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	if taskID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.cancelTask(w, r, taskID)
		return
	}

	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.getTask(w, r, rest)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	status, err := a.orch.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

func (a *API) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req CancelRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	cancelled, err := a.orch.Cancel(r.Context(), taskID, req.Reason)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !cancelled {
		httputil.WriteJSONError(w, "Task already terminal", http.StatusConflict)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"task_id":   taskID,
		"cancelled": true,
	})
}

func (a *API) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerAgent(w, r)
	case http.MethodGet:
		a.dash.GetAgents(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.AgentID == "" {
		httputil.WriteJSONError(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	if len(req.Capabilities) == 0 {
		httputil.WriteJSONError(w, "at least one capability is required", http.StatusBadRequest)
		return
	}

	ag := &agent.Agent{
		ID:           req.AgentID,
		Name:         req.Name,
		Type:         req.Type,
		Capabilities: req.Capabilities,
		Version:      req.Version,
		Config:       req.Config,
	}
	if err := a.orch.RegisterAgent(r.Context(), ag); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ag)
}

func (a *API) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")

	if agentID, ok := strings.CutSuffix(rest, "/heartbeat"); ok {
		if r.Method != http.MethodPost {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.heartbeat(w, r, agentID)
		return
	}
	if agentID, ok := strings.CutSuffix(rest, "/poll"); ok {
		if r.Method != http.MethodPost {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.poll(w, r, agentID)
		return
	}

	if r.Method == http.MethodDelete {
		if err := a.orch.DeregisterAgent(r.Context(), rest); err != nil {
			if errors.Is(err, agent.ErrAgentNotFound) {
				httputil.WriteJSONError(w, "Agent not found", http.StatusNotFound)
				return
			}
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (a *API) heartbeat(w http.ResponseWriter, r *http.Request, agentID string) {
	var req HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := a.orch.Heartbeat(r.Context(), agentID, req.Capabilities, req.LoadPercentage, req.Version)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			httputil.WriteJSONError(w, "Agent not found", http.StatusNotFound)
			return
		}
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) poll(w http.ResponseWriter, r *http.Request, agentID string) {
	var req PollRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	assignments := a.orch.Poll(agentID, req.Max)
	if assignments == nil {
		assignments = []orchestrator.Assignment{}
	}
	httputil.WriteJSON(w, http.StatusOK, assignments)
}

func (a *API) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")

	if runID, ok := strings.CutSuffix(rest, "/result"); ok {
		a.reportResult(w, r, runID)
		return
	}
	if runID, ok := strings.CutSuffix(rest, "/progress"); ok {
		a.reportProgress(w, r, runID)
		return
	}

	httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
}

func (a *API) reportResult(w http.ResponseWriter, r *http.Request, runID string) {
	var req ReportRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := task.RunStatus(req.Status)
	if err := a.orch.Report(runID, status, req.Result, req.Error); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Duplicate and late reports are accepted and dropped by the scheduler.
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) reportProgress(w http.ResponseWriter, r *http.Request, runID string) {
	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.orch.Progress(runID, payload)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.New("failed to read request body")
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("failed to close request body: %v", err)
		}
	}()

	if err := json.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}
