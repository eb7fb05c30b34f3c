// Package event provides the append-only lifecycle event stream consumed by
// dashboards and audit tooling. Appends never fail the operation being
// logged; persistence problems are logged and swallowed.
package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TaskQueued      Type = "task.queued"
	TaskStarted     Type = "task.started"
	TaskProgress    Type = "task.progress"
	TaskCompleted   Type = "task.completed"
	TaskFailed      Type = "task.failed"
	AgentHeartbeat  Type = "agent.heartbeat"
	AgentRegistered Type = "agent.registered"
	AgentOffline    Type = "agent.offline"
)

type Event struct {
	ID        string         `json:"event_id"`
	TaskID    string         `json:"task_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Sink receives events for durable storage.
type Sink interface {
	AppendEvent(ctx context.Context, e *Event) error
}

const DefaultCapacity = 4096

// Log keeps a bounded in-memory window of recent events for the read side
// and writes through to an optional durable sink.
type Log struct {
	mu     sync.Mutex
	events []*Event
	cap    int
	sink   Sink
}

func NewLog(capacity int, sink Sink) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events: make([]*Event, 0, capacity),
		cap:    capacity,
		sink:   sink,
	}
}

// Append records the event. It never returns an error: losing an audit
// record must not abort the operation that produced it.
func (l *Log) Append(e *Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	if len(l.events) > l.cap {
		l.events = l.events[len(l.events)-l.cap:]
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.AppendEvent(context.Background(), e); err != nil {
			log.Printf("event log: failed to persist %s event %s: %v", e.Type, e.ID, err)
		}
	}
}

// Query returns up to limit events, newest first.
func (l *Log) Query(limit int) []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}

	out := make([]*Event, 0, limit)
	for i := len(l.events) - 1; i >= len(l.events)-limit; i-- {
		copied := *l.events[i]
		out = append(out, &copied)
	}
	return out
}

// Purge drops events older than the cutoff and returns how many were removed.
func (l *Log) Purge(olderThan time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	keep := l.events[:0]
	removed := 0
	for _, e := range l.events {
		if e.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	l.events = keep
	return removed
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}
