package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimeout, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one dispatch attempt of a task to a specific agent.
type Run struct {
	ID          string         `json:"run_id"`
	TaskID      string         `json:"task_id"`
	AgentID     string         `json:"agent_id"`
	Status      RunStatus      `json:"status"`
	Attempt     int            `json:"attempt"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	TraceID     string         `json:"trace_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewRun(t *Task, agentID string, attempt int) *Run {
	return &Run{
		ID:        uuid.New().String(),
		TaskID:    t.ID,
		AgentID:   agentID,
		Status:    RunPending,
		Attempt:   attempt,
		TraceID:   t.TraceID,
		CreatedAt: time.Now(),
	}
}

// Transition moves the run to the given status, enforcing that terminal
// states are absorbing and that running is only entered from pending.
func (r *Run) Transition(to RunStatus, at time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("run %s already terminal (%s), cannot transition to %s", r.ID, r.Status, to)
	}
	if to == RunRunning {
		if r.Status != RunPending {
			return fmt.Errorf("run %s cannot start from %s", r.ID, r.Status)
		}
		r.Status = RunRunning
		r.StartedAt = &at
		return nil
	}
	if !to.Terminal() {
		return fmt.Errorf("run %s: invalid transition %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.CompletedAt = &at
	return nil
}

func (r *Run) DurationMs() int {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return int(r.CompletedAt.Sub(*r.StartedAt).Milliseconds())
}
