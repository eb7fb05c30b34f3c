// Package repository persists orchestrator state: task definitions, runs,
// agents, heartbeats and lifecycle events.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/repository/models"
	"github.com/OLJE901753/farmhand/internal/task"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrRunNotFound  = errors.New("run not found")
)

type Repository interface {
	// CreateTask inserts the task, deduplicating on idempotency key: when a
	// task with the same key already exists its id is returned with
	// created=false and no new row is written. The check-and-insert is
	// atomic.
	CreateTask(ctx context.Context, t *task.Task) (taskID string, created bool, err error)
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error

	SaveRun(ctx context.Context, r *task.Run) error
	UpdateRun(ctx context.Context, r *task.Run) error
	ListRunsByTask(ctx context.Context, taskID string) ([]*task.Run, error)

	UpsertAgent(ctx context.Context, a *agent.Agent) error
	SaveHeartbeat(ctx context.Context, hb *agent.Heartbeat) error
	ListAgents(ctx context.Context) ([]*agent.Agent, error)

	AppendEvent(ctx context.Context, e *event.Event) error
	ListEvents(ctx context.Context, limit int) ([]*event.Event, error)
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	QueueStats(ctx context.Context) (*models.QueueStats, error)
	Close() error
}
