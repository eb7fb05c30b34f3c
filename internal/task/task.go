// Package task defines the task and run domain model shared by the
// scheduler, queue and persistence layers. A Task is an immutable work
// definition; each dispatch attempt is tracked as a separate Run.
package task

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

type (
	Status   string
	Priority int
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Lower values dispatch first.
const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

const DefaultTimeoutMs = 30000

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

type RetryPolicy struct {
	MaxRetries int  `json:"max_retries"`
	BackoffMs  int  `json:"backoff_ms"`
	Jitter     bool `json:"jitter"`
}

// NextDelay returns how long to wait after the given 1-based attempt fails
// before starting the next one: backoff_ms * 2^(attempt-1), jittered by
// up to ±20% when enabled.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(p.BackoffMs) * time.Millisecond << (attempt - 1)
	if p.Jitter && delay > 0 {
		spread := float64(delay) * 0.2
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return delay
}

// Exhausted reports whether the given 1-based attempt was the last one
// permitted by the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries+1
}

type Task struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Payload            map[string]any `json:"payload"`
	Priority           Priority       `json:"priority"`
	Status             Status         `json:"status"`
	IdempotencyKey     string         `json:"idempotency_key,omitempty"`
	RequiredCapability string         `json:"required_capability"`
	TimeoutMs          int            `json:"timeout_ms"`
	Retry              RetryPolicy    `json:"retry_policy"`
	TraceID            string         `json:"trace_id"`
	CreatedAt          time.Time      `json:"created_at"`
	ScheduledAt        time.Time      `json:"scheduled_at"`
}

func NewTask(taskType, capability string, payload map[string]any, priority Priority) *Task {
	now := time.Now()
	return &Task{
		ID:                 uuid.New().String(),
		Type:               taskType,
		Payload:            payload,
		Priority:           priority,
		Status:             StatusPending,
		RequiredCapability: capability,
		TimeoutMs:          DefaultTimeoutMs,
		Retry:              RetryPolicy{MaxRetries: 3, BackoffMs: 1000},
		TraceID:            uuid.New().String(),
		CreatedAt:          now,
		ScheduledAt:        now,
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid task: " + e.Field + " " + e.Message
}

// Validate rejects malformed definitions before they enter the queue.
func (t *Task) Validate() error {
	if t.Type == "" {
		return &ValidationError{Field: "type", Message: "is required"}
	}
	if t.RequiredCapability == "" {
		return &ValidationError{Field: "required_capability", Message: "is required"}
	}
	if !t.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: "must be between 0 (critical) and 3 (low)"}
	}
	if t.TimeoutMs <= 0 {
		return &ValidationError{Field: "timeout_ms", Message: "must be positive"}
	}
	if t.Retry.MaxRetries < 0 {
		return &ValidationError{Field: "retry_policy.max_retries", Message: "must not be negative"}
	}
	if t.Retry.BackoffMs < 0 {
		return &ValidationError{Field: "retry_policy.backoff_ms", Message: "must not be negative"}
	}
	return nil
}

func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}
