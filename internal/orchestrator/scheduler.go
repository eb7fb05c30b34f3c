package orchestrator

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/metrics"
	"github.com/OLJE901753/farmhand/internal/task"
)

// run is the scheduler loop. It is the only goroutine allowed to touch the
// capacity table, the run table and the agent mailboxes.
func (o *Orchestrator) run() {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			for _, rs := range o.runs {
				rs.timer.Stop()
			}
			close(o.done)
			return
		case <-ticker.C:
			o.tick()
		case <-o.wake:
			o.tick()
		case fn := <-o.cmds:
			fn()
		}
	}
}

func (o *Orchestrator) tick() {
	now := o.now()
	if _, err := o.queue.PromoteDue(now); err != nil {
		log.Printf("scheduler: failed to promote delayed tasks: %v", err)
	}
	o.dispatchPending(now)
	metrics.UpdateRunsInFlight(len(o.runs))
}

// dispatchPending scans the head of the pending queue in priority order and
// hands each task to the best eligible agent. Tasks with no candidate stay
// queued for the next tick.
func (o *Orchestrator) dispatchPending(now time.Time) {
	tasks, err := o.queue.Scan(o.cfg.ScanWindow)
	if err != nil {
		log.Printf("scheduler: failed to scan pending queue: %v", err)
		return
	}

	for _, t := range tasks {
		ts, ok := o.tasks[t.ID]
		if !ok {
			// First sight of this id. A cancel may have landed between a
			// racing submission's create and enqueue, so trust the stored
			// status over the queue entry.
			if stored, err := o.repo.GetTask(context.Background(), t.ID); err == nil {
				switch stored.Status {
				case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
					if err := o.queue.Remove(t.ID); err != nil {
						log.Printf("scheduler: failed to drop stale task %s: %v", t.ID, err)
					}
					continue
				}
			}
			ts = &taskState{task: t}
			o.tasks[t.ID] = ts
		}
		if ts.cancelled {
			if err := o.queue.Remove(t.ID); err != nil {
				log.Printf("scheduler: failed to drop cancelled task %s: %v", t.ID, err)
			}
			continue
		}
		if ts.activeRun != "" {
			continue
		}

		candidate, ok := o.pickAgent(t.RequiredCapability)
		if !ok {
			continue
		}
		o.dispatch(t, ts, candidate, now)
	}
}

// pickAgent applies the greedy load-balancing heuristic: among agents
// declaring the capability with spare concurrency, take the one with the
// lowest reported load; ties go to the fewest in-flight runs, then to the
// smallest agent id for determinism.
func (o *Orchestrator) pickAgent(capability string) (agent.Candidate, bool) {
	candidates := o.registry.Query(capability)
	eligible := candidates[:0]
	for _, c := range candidates {
		if c.MaxConcurrency <= 0 {
			c.MaxConcurrency = 1
		}
		if o.inflight[c.Agent.ID][capability] >= c.MaxConcurrency {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return agent.Candidate{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Load != eligible[j].Load {
			return eligible[i].Load < eligible[j].Load
		}
		ii := o.inflight[eligible[i].Agent.ID][capability]
		ij := o.inflight[eligible[j].Agent.ID][capability]
		if ii != ij {
			return ii < ij
		}
		return eligible[i].Agent.ID < eligible[j].Agent.ID
	})
	return eligible[0], true
}

func (o *Orchestrator) dispatch(t *task.Task, ts *taskState, c agent.Candidate, now time.Time) {
	agentID := c.Agent.ID
	ts.attempt++
	ts.task = t
	run := task.NewRun(t, agentID, ts.attempt)
	ts.activeRun = run.ID

	if err := o.queue.Remove(t.ID); err != nil {
		log.Printf("scheduler: failed to dequeue task %s: %v", t.ID, err)
	}

	ctx := context.Background()
	if err := o.repo.SaveRun(ctx, run); err != nil {
		log.Printf("scheduler: failed to persist run %s: %v", run.ID, err)
	}
	if err := o.repo.UpdateTaskStatus(ctx, t.ID, task.StatusRunning); err != nil {
		log.Printf("scheduler: failed to update task %s status: %v", t.ID, err)
	}

	if o.inflight[agentID] == nil {
		o.inflight[agentID] = make(map[string]int)
	}
	o.inflight[agentID][t.RequiredCapability]++

	o.mailboxes[agentID] = append(o.mailboxes[agentID], Assignment{
		RunID:     run.ID,
		TaskID:    t.ID,
		Type:      t.Type,
		Payload:   t.Payload,
		Attempt:   run.Attempt,
		TimeoutMs: t.TimeoutMs,
		TraceID:   t.TraceID,
	})

	runID := run.ID
	rs := &runState{
		run:  run,
		task: t,
		timer: time.AfterFunc(t.Timeout(), func() {
			o.do(func() { o.finishRun(runID, task.RunTimeout, nil, "run exceeded timeout") })
		}),
	}
	o.runs[run.ID] = rs

	metrics.RecordRunDispatched(t.RequiredCapability)
	if run.Attempt == 1 {
		metrics.RecordTaskWaitTime(t.Type, t.Priority, now.Sub(t.CreatedAt))
	}
	log.Printf("dispatched task %s (attempt %d) to agent %s", t.ID, run.Attempt, agentID)
}

// pollLocked drains up to max assignments from the agent's mailbox and
// marks their runs running. Assignments whose run went terminal while
// waiting (cancel, timeout) are silently dropped.
func (o *Orchestrator) pollLocked(agentID string, max int) []Assignment {
	box := o.mailboxes[agentID]
	out := make([]Assignment, 0, max)
	now := o.now()

	for len(box) > 0 && len(out) < max {
		a := box[0]
		box = box[1:]

		rs, ok := o.runs[a.RunID]
		if !ok || rs.run.Status != task.RunPending {
			continue
		}
		if err := rs.run.Transition(task.RunRunning, now); err != nil {
			log.Printf("scheduler: %v", err)
			continue
		}
		if err := o.repo.UpdateRun(context.Background(), rs.run); err != nil {
			log.Printf("scheduler: failed to update run %s: %v", rs.run.ID, err)
		}
		o.events.Append(&event.Event{
			TaskID:  rs.run.TaskID,
			RunID:   rs.run.ID,
			AgentID: agentID,
			Type:    event.TaskStarted,
			Payload: map[string]any{"attempt": rs.run.Attempt},
			TraceID: rs.run.TraceID,
		})
		out = append(out, a)
	}
	o.mailboxes[agentID] = box
	return out
}

// finishRun applies a terminal status to a run, releases the agent's
// capacity and applies the retry policy. Duplicate or late reports land
// here with no matching active run and are ignored.
func (o *Orchestrator) finishRun(runID string, status task.RunStatus, result map[string]any, errMsg string) {
	rs, ok := o.runs[runID]
	if !ok {
		log.Printf("ignoring report for unknown or already-terminal run %s", runID)
		return
	}

	now := o.now()
	rs.timer.Stop()
	rs.run.Result = result
	rs.run.Error = errMsg
	if err := rs.run.Transition(status, now); err != nil {
		log.Printf("scheduler: %v", err)
		return
	}

	ctx := context.Background()
	if err := o.repo.UpdateRun(ctx, rs.run); err != nil {
		log.Printf("scheduler: failed to update run %s: %v", runID, err)
	}

	o.releaseCapacity(rs.run.AgentID, rs.task.RequiredCapability)
	delete(o.runs, runID)

	ts := o.tasks[rs.task.ID]
	if ts != nil {
		ts.activeRun = ""
	}

	duration := time.Duration(rs.run.DurationMs()) * time.Millisecond

	switch status {
	case task.RunCompleted:
		if err := o.repo.UpdateTaskStatus(ctx, rs.task.ID, task.StatusCompleted); err != nil {
			log.Printf("scheduler: failed to update task %s status: %v", rs.task.ID, err)
		}
		o.events.Append(&event.Event{
			TaskID:  rs.task.ID,
			RunID:   runID,
			AgentID: rs.run.AgentID,
			Type:    event.TaskCompleted,
			Payload: map[string]any{"attempt": rs.run.Attempt},
			TraceID: rs.run.TraceID,
		})
		metrics.RecordTaskCompleted(rs.task.Type, duration)
		delete(o.tasks, rs.task.ID)

	case task.RunFailed, task.RunTimeout:
		if status == task.RunTimeout {
			metrics.RecordRunTimedOut(rs.task.RequiredCapability)
		}
		o.events.Append(&event.Event{
			TaskID:  rs.task.ID,
			RunID:   runID,
			AgentID: rs.run.AgentID,
			Type:    event.TaskFailed,
			Payload: map[string]any{
				"attempt": rs.run.Attempt,
				"status":  string(status),
				"error":   errMsg,
			},
			TraceID: rs.run.TraceID,
		})
		o.retryOrFail(ctx, rs, now)

	case task.RunCancelled:
		if err := o.repo.UpdateTaskStatus(ctx, rs.task.ID, task.StatusCancelled); err != nil {
			log.Printf("scheduler: failed to update task %s status: %v", rs.task.ID, err)
		}
	}

	o.poke()
}

func (o *Orchestrator) retryOrFail(ctx context.Context, rs *runState, now time.Time) {
	t := rs.task
	ts := o.tasks[t.ID]
	if ts != nil && ts.cancelled {
		return
	}

	if !t.Retry.Exhausted(rs.run.Attempt) {
		delay := t.Retry.NextDelay(rs.run.Attempt)
		err := o.queue.EnqueueDelayed(t, now.Add(delay))
		if err == nil {
			if err := o.repo.UpdateTaskStatus(ctx, t.ID, task.StatusPending); err != nil {
				log.Printf("scheduler: failed to update task %s status: %v", t.ID, err)
			}
			metrics.RecordTaskRetried(t.Type)
			log.Printf("task %s attempt %d failed, retrying in %s", t.ID, rs.run.Attempt, delay)
			return
		}
		// A dropped requeue would strand the task as pending forever;
		// fail it terminally instead.
		log.Printf("scheduler: failed to requeue task %s for retry, failing it: %v", t.ID, err)
	}

	if err := o.repo.UpdateTaskStatus(ctx, t.ID, task.StatusFailed); err != nil {
		log.Printf("scheduler: failed to update task %s status: %v", t.ID, err)
	}
	metrics.RecordTaskFailed(t.Type, time.Duration(rs.run.DurationMs())*time.Millisecond)
	o.notifier.TaskFailed(t, rs.run.Attempt, rs.run.Error)
	delete(o.tasks, t.ID)
	log.Printf("task %s failed permanently after %d attempts: %s", t.ID, rs.run.Attempt, rs.run.Error)
}

// cancelLocked stops dispatching and retrying the task and marks any
// in-flight run cancelled.
func (o *Orchestrator) cancelLocked(taskID, reason string) bool {
	ts, ok := o.tasks[taskID]
	if !ok {
		// Queued but not yet seen by the loop, or already drained.
		ts = &taskState{cancelled: true}
		o.tasks[taskID] = ts
	}
	ts.cancelled = true

	if err := o.queue.Remove(taskID); err != nil {
		log.Printf("scheduler: failed to remove cancelled task %s from queue: %v", taskID, err)
	}

	ctx := context.Background()
	if ts.activeRun != "" {
		if rs, ok := o.runs[ts.activeRun]; ok {
			rs.timer.Stop()
			if err := rs.run.Transition(task.RunCancelled, o.now()); err == nil {
				if err := o.repo.UpdateRun(ctx, rs.run); err != nil {
					log.Printf("scheduler: failed to update run %s: %v", rs.run.ID, err)
				}
			}
			o.releaseCapacity(rs.run.AgentID, rs.task.RequiredCapability)
			delete(o.runs, ts.activeRun)
			ts.activeRun = ""
		}
	}

	if err := o.repo.UpdateTaskStatus(ctx, taskID, task.StatusCancelled); err != nil {
		log.Printf("scheduler: failed to update task %s status: %v", taskID, err)
	}
	delete(o.tasks, taskID)
	o.events.Append(&event.Event{
		TaskID: taskID,
		Type:   event.TaskFailed,
		Payload: map[string]any{
			"cancelled": true,
			"reason":    reason,
		},
	})
	o.poke()
	return true
}

func (o *Orchestrator) releaseCapacity(agentID, capability string) {
	if counts, ok := o.inflight[agentID]; ok {
		if counts[capability] > 0 {
			counts[capability]--
		}
		if counts[capability] == 0 {
			delete(counts, capability)
		}
		if len(counts) == 0 {
			delete(o.inflight, agentID)
		}
	}
}
