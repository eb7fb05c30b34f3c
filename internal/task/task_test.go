package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Defaults(t *testing.T) {
	tk := NewTask("crop_analysis", "crop_analysis", map[string]any{"field": "north"}, PriorityNormal)

	assert.NotEmpty(t, tk.ID)
	assert.NotEmpty(t, tk.TraceID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, DefaultTimeoutMs, tk.TimeoutMs)
	assert.Equal(t, 3, tk.Retry.MaxRetries)
	assert.Equal(t, 1000, tk.Retry.BackoffMs)
	assert.Equal(t, tk.CreatedAt, tk.ScheduledAt)
}

func TestValidate(t *testing.T) {
	valid := NewTask("crop_analysis", "crop_analysis", nil, PriorityNormal)
	assert.NoError(t, valid.Validate())

	noType := NewTask("", "crop_analysis", nil, PriorityNormal)
	err := noType.Validate()
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "type", verr.Field)

	noCapability := NewTask("crop_analysis", "", nil, PriorityNormal)
	assert.Error(t, noCapability.Validate())

	badPriority := NewTask("crop_analysis", "crop_analysis", nil, Priority(7))
	assert.Error(t, badPriority.Validate())

	badTimeout := NewTask("crop_analysis", "crop_analysis", nil, PriorityNormal)
	badTimeout.TimeoutMs = 0
	assert.Error(t, badTimeout.Validate())

	badRetries := NewTask("crop_analysis", "crop_analysis", nil, PriorityNormal)
	badRetries.Retry.MaxRetries = -1
	assert.Error(t, badRetries.Validate())

	badBackoff := NewTask("crop_analysis", "crop_analysis", nil, PriorityNormal)
	badBackoff.Retry.BackoffMs = -1
	assert.Error(t, badBackoff.Validate())
}

func TestPriority(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(9).String())

	assert.True(t, PriorityCritical.Valid())
	assert.True(t, PriorityLow.Valid())
	assert.False(t, Priority(-1).Valid())
	assert.False(t, Priority(4).Valid())
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BackoffMs: 1000}

	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))

	// Attempts below 1 are clamped.
	assert.Equal(t, time.Second, p.NextDelay(0))
}

func TestRetryPolicy_NextDelay_Jitter(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BackoffMs: 1000, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BackoffMs: 100}

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))

	noRetries := RetryPolicy{MaxRetries: 0}
	assert.True(t, noRetries.Exhausted(1))
}

func TestTimeout(t *testing.T) {
	tk := NewTask("crop_analysis", "crop_analysis", nil, PriorityNormal)
	tk.TimeoutMs = 1500

	assert.Equal(t, 1500*time.Millisecond, tk.Timeout())
}

func TestJSONRoundTrip(t *testing.T) {
	tk := NewTask("disease_detection", "disease_detection", map[string]any{"zone": "b2"}, PriorityHigh)
	tk.IdempotencyKey = "scan-b2-2026-08-23"

	data, err := tk.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, tk.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, tk.Priority, got.Priority)
	assert.Equal(t, "b2", got.Payload["zone"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON("{not json")
	assert.Error(t, err)
}
