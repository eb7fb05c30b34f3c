// Package orchestrator is the scheduling core: it admits tasks, matches
// them to capability-declaring agents, tracks every dispatch attempt
// through retries and timeouts, and feeds the lifecycle event stream.
//
// A single scheduler goroutine owns the capacity table and the active run
// table. Task submission and heartbeat ingestion are concurrent write paths
// that only touch the queue and the registry, then nudge the loop; all
// other mutation reaches the loop as a command over a channel.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/metrics"
	"github.com/OLJE901753/farmhand/internal/notify"
	"github.com/OLJE901753/farmhand/internal/queue"
	"github.com/OLJE901753/farmhand/internal/repository"
	"github.com/OLJE901753/farmhand/internal/repository/models"
	"github.com/OLJE901753/farmhand/internal/task"
)

type Config struct {
	TickInterval   time.Duration
	SweepInterval  time.Duration
	PurgeInterval  time.Duration
	EventRetention time.Duration
	ScanWindow     int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 200 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 7 * 24 * time.Hour
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = 64
	}
}

type Orchestrator struct {
	cfg      Config
	repo     repository.Repository
	queue    *queue.Queue
	registry *agent.Registry
	events   *event.Log
	notifier notify.Notifier
	now      func() time.Time

	cmds chan func()
	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// Owned by the scheduler goroutine; never touched elsewhere.
	inflight  map[string]map[string]int
	runs      map[string]*runState
	tasks     map[string]*taskState
	mailboxes map[string][]Assignment
}

type taskState struct {
	task      *task.Task
	attempt   int
	activeRun string
	cancelled bool
}

type runState struct {
	run   *task.Run
	task  *task.Task
	timer *time.Timer
}

// Assignment is the unit of work an agent collects when polling.
type Assignment struct {
	RunID     string         `json:"run_id"`
	TaskID    string         `json:"task_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Attempt   int            `json:"attempt"`
	TimeoutMs int            `json:"timeout_ms"`
	TraceID   string         `json:"trace_id"`
}

func New(repo repository.Repository, q *queue.Queue, registry *agent.Registry, events *event.Log, notifier notify.Notifier, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Orchestrator{
		cfg:       cfg,
		repo:      repo,
		queue:     q,
		registry:  registry,
		events:    events,
		notifier:  notifier,
		now:       time.Now,
		cmds:      make(chan func(), 64),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		inflight:  make(map[string]map[string]int),
		runs:      make(map[string]*runState),
		tasks:     make(map[string]*taskState),
		mailboxes: make(map[string][]Assignment),
	}
}

// SetClock overrides the orchestrator's time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.registry.SetClock(now)
}

// Start launches the scheduler loop, the heartbeat sweeper and the event
// retention pass.
func (o *Orchestrator) Start() {
	go o.run()
	go o.sweeper()
	go o.purger()
}

func (o *Orchestrator) Stop() {
	close(o.stop)
	<-o.done
}

// Submit validates and admits a task. When the idempotency key matches an
// existing task, the existing id is returned with created=false; callers
// must treat that as success.
func (o *Orchestrator) Submit(ctx context.Context, t *task.Task) (string, bool, error) {
	if err := t.Validate(); err != nil {
		return "", false, err
	}

	taskID, created, err := o.repo.CreateTask(ctx, t)
	if err != nil {
		return "", false, err
	}
	if !created {
		metrics.RecordTaskDeduplicated(t.Type)
		if err := o.reconcile(ctx, taskID); err != nil {
			return "", false, err
		}
		return taskID, false, nil
	}

	if err := o.queue.Enqueue(t); err != nil {
		return "", false, err
	}

	o.events.Append(&event.Event{
		TaskID:  t.ID,
		Type:    event.TaskQueued,
		TraceID: t.TraceID,
		Payload: map[string]any{
			"type":     t.Type,
			"priority": t.Priority.String(),
		},
	})
	metrics.RecordTaskSubmitted(t.Type, t.Priority)
	o.poke()
	return t.ID, true, nil
}

// reconcile re-enqueues a stored pending task that is on neither queue.
// That state is left behind when an earlier submission created the task
// durably but its enqueue never landed; the retry with the same idempotency
// key takes the dedup path, so admission has to repair the queue here.
func (o *Orchestrator) reconcile(ctx context.Context, taskID string) error {
	stored, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if stored.Status != task.StatusPending {
		return nil
	}

	reply := make(chan error, 1)
	o.do(func() {
		if ts, ok := o.tasks[taskID]; ok && (ts.cancelled || ts.activeRun != "") {
			reply <- nil
			return
		}
		queued, err := o.queue.Contains(taskID)
		if err != nil || queued {
			reply <- err
			return
		}
		reply <- o.queue.Enqueue(stored)
	})
	select {
	case err := <-reply:
		if err != nil {
			return err
		}
		o.poke()
		return nil
	case <-o.done:
		return context.Canceled
	}
}

// TaskStatus is the polling view of a task and its run history.
type TaskStatus struct {
	Task   *task.Task     `json:"task"`
	Status task.Status    `json:"status"`
	Runs   []*task.Run    `json:"runs"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (o *Orchestrator) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	t, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	runs, err := o.repo.ListRunsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	status := &TaskStatus{Task: t, Status: t.Status, Runs: runs}
	for _, r := range runs {
		if r.Status == task.RunCompleted {
			status.Result = r.Result
		}
	}
	if t.Status == task.StatusFailed && len(runs) > 0 {
		status.Error = runs[len(runs)-1].Error
	}
	return status, nil
}

// Cancel is best effort: the task stops dispatching and retrying, and any
// in-flight run is marked cancelled locally. Agent-side work cannot be
// force-terminated.
func (o *Orchestrator) Cancel(ctx context.Context, taskID, reason string) (bool, error) {
	t, err := o.repo.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	switch t.Status {
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		return false, nil
	}

	reply := make(chan bool, 1)
	o.do(func() { reply <- o.cancelLocked(taskID, reason) })
	select {
	case cancelled := <-reply:
		return cancelled, nil
	case <-o.done:
		return false, context.Canceled
	}
}

// Poll hands up to max queued assignments to the agent and marks their
// runs as started.
func (o *Orchestrator) Poll(agentID string, max int) []Assignment {
	if max <= 0 {
		max = 1
	}
	reply := make(chan []Assignment, 1)
	o.do(func() { reply <- o.pollLocked(agentID, max) })
	select {
	case out := <-reply:
		return out
	case <-o.done:
		return nil
	}
}

// Report records a terminal result for a run. Reports against unknown or
// already-terminal runs are logged and ignored.
func (o *Orchestrator) Report(runID string, status task.RunStatus, result map[string]any, errMsg string) error {
	if status != task.RunCompleted && status != task.RunFailed {
		return &task.ValidationError{Field: "status", Message: "must be completed or failed"}
	}
	o.do(func() { o.finishRun(runID, status, result, errMsg) })
	return nil
}

// Progress emits a task.progress event for an active run.
func (o *Orchestrator) Progress(runID string, payload map[string]any) {
	o.do(func() {
		rs, ok := o.runs[runID]
		if !ok {
			return
		}
		o.events.Append(&event.Event{
			TaskID:  rs.run.TaskID,
			RunID:   runID,
			AgentID: rs.run.AgentID,
			Type:    event.TaskProgress,
			Payload: payload,
			TraceID: rs.run.TraceID,
		})
	})
}

// RegisterAgent creates or updates the agent and emits agent.registered on
// first creation.
func (o *Orchestrator) RegisterAgent(ctx context.Context, a *agent.Agent) error {
	created, err := o.registry.Register(ctx, a)
	if err != nil {
		return err
	}
	if created {
		o.events.Append(&event.Event{
			AgentID: a.ID,
			Type:    event.AgentRegistered,
			Payload: map[string]any{
				"name":         a.Name,
				"type":         a.Type,
				"capabilities": a.Capabilities,
			},
		})
	}
	o.poke()
	return nil
}

func (o *Orchestrator) DeregisterAgent(ctx context.Context, agentID string) error {
	return o.registry.Deregister(ctx, agentID)
}

// Heartbeat ingests a liveness ping and nudges the scheduler, since a
// revived or newly healthy agent may unblock pending work.
func (o *Orchestrator) Heartbeat(ctx context.Context, agentID string, caps []agent.Capability, load float64, version string) error {
	if err := o.registry.Beat(ctx, agentID, caps, load, version); err != nil {
		return err
	}
	_, hb, _ := o.registry.Get(agentID)
	payload := map[string]any{"load_percentage": load}
	if hb != nil {
		payload["health"] = hb.Health
	}
	o.events.Append(&event.Event{
		AgentID: agentID,
		Type:    event.AgentHeartbeat,
		Payload: payload,
	})
	metrics.RecordHeartbeat(agentID)
	o.poke()
	return nil
}

// ListAgents returns dispatch-eligible agents, optionally filtered by
// capability.
func (o *Orchestrator) ListAgents(capability string) []agent.Candidate {
	return o.registry.Query(capability)
}

func (o *Orchestrator) Stats(ctx context.Context) (*models.QueueStats, error) {
	return o.repo.QueueStats(ctx)
}

func (o *Orchestrator) Events(limit int) []*event.Event {
	return o.events.Query(limit)
}

// QueueDepths reports pending/delayed queue sizes for the metrics
// collector.
func (o *Orchestrator) QueueDepths() (int64, int64, error) {
	return o.queue.Depth()
}

func (o *Orchestrator) do(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stop:
	}
}

func (o *Orchestrator) poke() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) sweeper() {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			now := o.now()
			for _, id := range o.registry.Sweep(now) {
				a, hb, _ := o.registry.Get(id)
				lastSeen := a.RegisteredAt
				if hb != nil {
					lastSeen = hb.LastSeen
				}
				log.Printf("agent %s went silent, marking unhealthy", id)
				o.events.Append(&event.Event{
					AgentID: id,
					Type:    event.AgentOffline,
					Payload: map[string]any{"last_seen": lastSeen},
				})
				o.notifier.AgentOffline(id, lastSeen)
			}
			metrics.UpdateAgentsAvailable(len(o.registry.Query("")))
		}
	}
}

func (o *Orchestrator) purger() {
	ticker := time.NewTicker(o.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			cutoff := o.now().Add(-o.cfg.EventRetention)
			o.events.Purge(cutoff)
			if _, err := o.repo.PurgeEventsBefore(context.Background(), cutoff); err != nil {
				log.Printf("failed to purge events: %v", err)
			}
		}
	}
}
