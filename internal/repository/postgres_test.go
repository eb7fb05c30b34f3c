package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := &PostgresRepository{db: db}
	return db, mock, repo
}

func TestNewPostgresRepository(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		t.Skip("Integration test - requires real database")
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewPostgresRepository("invalid connection string")
		assert.Error(t, err)
	})
}

func TestCreateTask(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	t.Run("new task inserted", func(t *testing.T) {
		tk := task.NewTask("crop_analysis", "crop_analysis", map[string]any{"field": "north"}, task.PriorityNormal)
		tk.IdempotencyKey = "scan-north-1"

		rows := sqlmock.NewRows([]string{"task_id"}).AddRow(tk.ID)
		mock.ExpectQuery("INSERT INTO tasks").
			WillReturnRows(rows)

		id, created, err := repo.CreateTask(ctx, tk)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, tk.ID, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotency key conflict returns existing task", func(t *testing.T) {
		tk := task.NewTask("crop_analysis", "crop_analysis", nil, task.PriorityNormal)
		tk.IdempotencyKey = "scan-north-1"

		mock.ExpectQuery("INSERT INTO tasks").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT task_id FROM tasks WHERE idempotency_key").
			WithArgs(tk.IdempotencyKey).
			WillReturnRows(sqlmock.NewRows([]string{"task_id"}).AddRow("existing-task"))

		id, created, err := repo.CreateTask(ctx, tk)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "existing-task", id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		tk := task.NewTask("crop_analysis", "crop_analysis", nil, task.PriorityNormal)

		mock.ExpectQuery("INSERT INTO tasks").
			WillReturnError(sql.ErrConnDone)

		_, _, err := repo.CreateTask(ctx, tk)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetTask(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	now := time.Now()

	t.Run("successful retrieval", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{"field": "north"})

		rows := sqlmock.NewRows([]string{
			"task_id", "type", "payload", "priority", "status",
			"idempotency_key", "required_capability", "timeout_ms",
			"max_retries", "backoff_ms", "jitter", "trace_id",
			"created_at", "scheduled_at",
		}).AddRow(
			"task-1", "crop_analysis", payload, 2, "pending",
			"scan-north-1", "crop_analysis", 30000,
			3, 1000, false, "trace-1",
			now, now,
		)

		mock.ExpectQuery("SELECT.*FROM tasks.*WHERE task_id").
			WithArgs("task-1").
			WillReturnRows(rows)

		got, err := repo.GetTask(ctx, "task-1")
		require.NoError(t, err)
		assert.Equal(t, "task-1", got.ID)
		assert.Equal(t, task.PriorityNormal, got.Priority)
		assert.Equal(t, "crop_analysis", got.RequiredCapability)
		assert.Equal(t, 3, got.Retry.MaxRetries)
		assert.Equal(t, "north", got.Payload["field"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("task not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT.*FROM tasks.*WHERE task_id").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetTask(ctx, "ghost")
		assert.ErrorIs(t, err, ErrTaskNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateTaskStatus(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(task.StatusRunning, "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateTaskStatus(context.Background(), "task-1", task.StatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndUpdateRun(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	tk := task.NewTask("crop_analysis", "crop_analysis", nil, task.PriorityNormal)
	run := task.NewRun(tk, "agent-1", 1)

	mock.ExpectExec("INSERT INTO task_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveRun(ctx, run))

	require.NoError(t, run.Transition(task.RunRunning, time.Now()))
	require.NoError(t, run.Transition(task.RunCompleted, time.Now()))
	run.Result = map[string]any{"condition": "healthy"}

	mock.ExpectExec("UPDATE task_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateRun(ctx, run))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsByTask(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	now := time.Now()
	completed := now.Add(time.Second)
	result, _ := json.Marshal(map[string]any{"condition": "healthy"})

	rows := sqlmock.NewRows([]string{
		"run_id", "task_id", "agent_id", "status", "attempt",
		"started_at", "completed_at", "result", "error", "trace_id", "created_at",
	}).
		AddRow("run-1", "task-1", "agent-1", "timeout", 1, now, completed, []byte("null"), "run exceeded timeout", "trace-1", now).
		AddRow("run-2", "task-1", "agent-2", "completed", 2, now, completed, result, "", "trace-1", now)

	mock.ExpectQuery("SELECT.*FROM task_runs.*WHERE task_id").
		WithArgs("task-1").
		WillReturnRows(rows)

	runs, err := repo.ListRunsByTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, task.RunTimeout, runs[0].Status)
	assert.Equal(t, 2, runs[1].Attempt)
	assert.Equal(t, "healthy", runs[1].Result["condition"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAgent(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	a := &agent.Agent{
		ID:           "agent-1",
		Name:         "agent-1",
		Type:         "crop-health-specialist",
		Capabilities: []agent.Capability{{Type: "crop_analysis", Version: "1.0", MaxConcurrency: 2}},
		Status:       agent.StatusActive,
	}

	mock.ExpectExec("INSERT INTO agents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertAgent(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveHeartbeat(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	hb := &agent.Heartbeat{
		AgentID:        "agent-1",
		LastSeen:       time.Now(),
		LoadPercentage: 42,
		Version:        "1.0.0",
		Health:         agent.Healthy,
	}

	mock.ExpectExec("INSERT INTO agent_heartbeats").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveHeartbeat(context.Background(), hb))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	e := &event.Event{
		ID:        "event-1",
		TaskID:    "task-1",
		Type:      event.TaskQueued,
		Timestamp: time.Now(),
	}

	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AppendEvent(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeEventsBefore(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("DELETE FROM events WHERE timestamp").
		WillReturnResult(sqlmock.NewResult(0, 17))

	removed, err := repo.PurgeEventsBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(17), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueStats(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer func() { _ = db.Close() }()

	statusRows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 3).
		AddRow("running", 1).
		AddRow("completed", 10).
		AddRow("failed", 2)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(statusRows)

	typeRows := sqlmock.NewRows([]string{"type", "count"}).
		AddRow("crop_analysis", 12).
		AddRow("flight_planning", 4)
	mock.ExpectQuery("SELECT type, COUNT").
		WillReturnRows(typeRows)

	avgRows := sqlmock.NewRows([]string{"avg"}).AddRow(125.5)
	mock.ExpectQuery("SELECT COALESCE.*completed_at - started_at").
		WillReturnRows(avgRows)

	waitRows := sqlmock.NewRows([]string{"avg"}).AddRow(40.0)
	mock.ExpectQuery("SELECT COALESCE.*started_at - t.created_at").
		WillReturnRows(waitRows)

	stats, err := repo.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 10, stats.Completed)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Cancelled)
	assert.Equal(t, 12, stats.TasksByType["crop_analysis"])
	assert.Equal(t, 125.5, stats.AvgExecutionTimeMs)
	assert.Equal(t, 40.0, stats.AvgWaitTimeMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
