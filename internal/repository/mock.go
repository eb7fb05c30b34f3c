package repository

import (
	"context"
	"sync"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/repository/models"
	"github.com/OLJE901753/farmhand/internal/task"
)

// MockRepository is an in-memory Repository that records calls for
// assertions in tests.
type MockRepository struct {
	mu sync.Mutex

	Tasks      map[string]*task.Task
	Runs       map[string]*task.Run
	Agents     map[string]*agent.Agent
	Heartbeats map[string]*agent.Heartbeat
	Events     []*event.Event

	idempotencyKeys map[string]string

	CreateTaskCalls  int
	SaveRunCalls     int
	UpdateRunCalls   int
	AppendEventCalls int

	CreateTaskError  error
	SaveRunError     error
	AppendEventError error
	QueueStatsError  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		Tasks:           make(map[string]*task.Task),
		Runs:            make(map[string]*task.Run),
		Agents:          make(map[string]*agent.Agent),
		Heartbeats:      make(map[string]*agent.Heartbeat),
		idempotencyKeys: make(map[string]string),
	}
}

func (m *MockRepository) CreateTask(ctx context.Context, t *task.Task) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateTaskCalls++
	if m.CreateTaskError != nil {
		return "", false, m.CreateTaskError
	}

	if t.IdempotencyKey != "" {
		if existing, ok := m.idempotencyKeys[t.IdempotencyKey]; ok {
			return existing, false, nil
		}
		m.idempotencyKeys[t.IdempotencyKey] = t.ID
	}

	taskCopy := *t
	m.Tasks[t.ID] = &taskCopy
	return t.ID, true, nil
}

func (m *MockRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.Tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	taskCopy := *t
	return &taskCopy, nil
}

func (m *MockRepository) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.Tasks[taskID]; ok {
		t.Status = status
	}
	return nil
}

func (m *MockRepository) SaveRun(ctx context.Context, r *task.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalls++
	if m.SaveRunError != nil {
		return m.SaveRunError
	}

	runCopy := *r
	m.Runs[r.ID] = &runCopy
	return nil
}

func (m *MockRepository) UpdateRun(ctx context.Context, r *task.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateRunCalls++
	runCopy := *r
	m.Runs[r.ID] = &runCopy
	return nil
}

func (m *MockRepository) ListRunsByTask(ctx context.Context, taskID string) ([]*task.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []*task.Run
	for _, r := range m.Runs {
		if r.TaskID == taskID {
			runCopy := *r
			runs = append(runs, &runCopy)
		}
	}
	for i := range runs {
		for j := i + 1; j < len(runs); j++ {
			if runs[j].Attempt < runs[i].Attempt {
				runs[i], runs[j] = runs[j], runs[i]
			}
		}
	}
	return runs, nil
}

func (m *MockRepository) UpsertAgent(ctx context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentCopy := *a
	m.Agents[a.ID] = &agentCopy
	return nil
}

func (m *MockRepository) SaveHeartbeat(ctx context.Context, hb *agent.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hbCopy := *hb
	m.Heartbeats[hb.AgentID] = &hbCopy
	return nil
}

func (m *MockRepository) ListAgents(ctx context.Context) ([]*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agents []*agent.Agent
	for _, a := range m.Agents {
		agentCopy := *a
		agents = append(agents, &agentCopy)
	}
	return agents, nil
}

func (m *MockRepository) AppendEvent(ctx context.Context, e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendEventCalls++
	if m.AppendEventError != nil {
		return m.AppendEventError
	}

	eventCopy := *e
	m.Events = append(m.Events, &eventCopy)
	return nil
}

func (m *MockRepository) ListEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*event.Event
	for i := len(m.Events) - 1; i >= 0 && len(events) < limit; i-- {
		eventCopy := *m.Events[i]
		events = append(events, &eventCopy)
	}
	return events, nil
}

func (m *MockRepository) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := m.Events[:0]
	var removed int64
	for _, e := range m.Events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	m.Events = keep
	return removed, nil
}

func (m *MockRepository) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueueStatsError != nil {
		return nil, m.QueueStatsError
	}

	stats := &models.QueueStats{TasksByType: make(map[string]int)}
	for _, t := range m.Tasks {
		stats.TasksByType[t.Type]++
		switch t.Status {
		case task.StatusPending:
			stats.Pending++
		case task.StatusRunning:
			stats.Running++
		case task.StatusCompleted:
			stats.Completed++
		case task.StatusFailed:
			stats.Failed++
		case task.StatusCancelled:
			stats.Cancelled++
		}
	}

	var totalMs, counted int
	var waitMs float64
	var waited int
	for _, r := range m.Runs {
		if r.Status == task.RunCompleted {
			totalMs += r.DurationMs()
			counted++
		}
		if r.Attempt == 1 && r.StartedAt != nil {
			if t, ok := m.Tasks[r.TaskID]; ok {
				waitMs += float64(r.StartedAt.Sub(t.CreatedAt).Milliseconds())
				waited++
			}
		}
	}
	if counted > 0 {
		stats.AvgExecutionTimeMs = float64(totalMs) / float64(counted)
	}
	if waited > 0 {
		stats.AvgWaitTimeMs = waitMs / float64(waited)
	}
	return stats, nil
}

func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) RunCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, r := range m.Runs {
		if r.TaskID == taskID {
			count++
		}
	}
	return count
}

func (m *MockRepository) EventsOfType(typ event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*event.Event
	for _, e := range m.Events {
		if e.Type == typ {
			eventCopy := *e
			out = append(out, &eventCopy)
		}
	}
	return out
}
