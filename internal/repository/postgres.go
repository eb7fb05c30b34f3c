package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/repository/models"
	"github.com/OLJE901753/farmhand/internal/task"
	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) CreateTask(ctx context.Context, t *task.Task) (string, bool, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var idempotencyKey any
	if t.IdempotencyKey != "" {
		idempotencyKey = t.IdempotencyKey
	}

	query := `
		INSERT INTO tasks (
			task_id, type, payload, priority, status, idempotency_key,
			required_capability, timeout_ms, max_retries, backoff_ms,
			jitter, trace_id, created_at, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING task_id
	`

	var insertedID string
	err = r.db.QueryRowContext(
		ctx,
		query,
		t.ID,
		t.Type,
		payload,
		t.Priority,
		t.Status,
		idempotencyKey,
		t.RequiredCapability,
		t.TimeoutMs,
		t.Retry.MaxRetries,
		t.Retry.BackoffMs,
		t.Retry.Jitter,
		t.TraceID,
		t.CreatedAt,
		t.ScheduledAt,
	).Scan(&insertedID)
	if err == nil {
		return insertedID, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}

	// The insert was skipped by the conflict clause: another task already
	// holds this idempotency key.
	var existingID string
	err = r.db.QueryRowContext(
		ctx,
		`SELECT task_id FROM tasks WHERE idempotency_key = $1`,
		t.IdempotencyKey,
	).Scan(&existingID)
	if err != nil {
		return "", false, err
	}
	return existingID, false, nil
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `
		SELECT
			task_id, type, payload, priority, status,
			COALESCE(idempotency_key, ''), required_capability, timeout_ms,
			max_retries, backoff_ms, jitter, trace_id, created_at, scheduled_at
		FROM tasks
		WHERE task_id = $1
	`

	var t task.Task
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&t.Type,
		&payload,
		&t.Priority,
		&t.Status,
		&t.IdempotencyKey,
		&t.RequiredCapability,
		&t.TimeoutMs,
		&t.Retry.MaxRetries,
		&t.Retry.BackoffMs,
		&t.Retry.Jitter,
		&t.TraceID,
		&t.CreatedAt,
		&t.ScheduledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &t.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE tasks SET status = $1 WHERE task_id = $2`,
		status,
		taskID,
	)
	return err
}

func (r *PostgresRepository) SaveRun(ctx context.Context, run *task.Run) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO task_runs (
			run_id, task_id, agent_id, status, attempt,
			started_at, completed_at, result, error, trace_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.TaskID,
		run.AgentID,
		run.Status,
		run.Attempt,
		run.StartedAt,
		run.CompletedAt,
		result,
		run.Error,
		run.TraceID,
		run.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) UpdateRun(ctx context.Context, run *task.Run) error {
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE task_runs
		SET status = $1,
		    started_at = $2,
		    completed_at = $3,
		    result = $4,
		    error = $5
		WHERE run_id = $6
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		result,
		run.Error,
		run.ID,
	)
	return err
}

func (r *PostgresRepository) ListRunsByTask(ctx context.Context, taskID string) ([]*task.Run, error) {
	query := `
		SELECT run_id, task_id, agent_id, status, attempt,
		       started_at, completed_at, result, error, trace_id, created_at
		FROM task_runs
		WHERE task_id = $1
		ORDER BY attempt ASC
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var runs []*task.Run
	for rows.Next() {
		var run task.Run
		var startedAt, completedAt sql.NullTime
		var result []byte
		if err := rows.Scan(
			&run.ID,
			&run.TaskID,
			&run.AgentID,
			&run.Status,
			&run.Attempt,
			&startedAt,
			&completedAt,
			&result,
			&run.Error,
			&run.TraceID,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &run.Result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepository) UpsertAgent(ctx context.Context, a *agent.Agent) error {
	capabilities, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO agents (
			agent_id, name, type, capabilities, version, status,
			config, registered_at, last_heartbeat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			capabilities = EXCLUDED.capabilities,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			last_heartbeat = EXCLUDED.last_heartbeat
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		a.ID,
		a.Name,
		a.Type,
		capabilities,
		a.Version,
		a.Status,
		config,
		a.RegisteredAt,
		a.LastHeartbeat,
	)
	return err
}

func (r *PostgresRepository) SaveHeartbeat(ctx context.Context, hb *agent.Heartbeat) error {
	capabilities, err := json.Marshal(hb.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO agent_heartbeats (
			agent_id, capabilities, last_seen, load_percentage, version, health
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			last_seen = EXCLUDED.last_seen,
			load_percentage = EXCLUDED.load_percentage,
			version = EXCLUDED.version,
			health = EXCLUDED.health
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		hb.AgentID,
		capabilities,
		hb.LastSeen,
		hb.LoadPercentage,
		hb.Version,
		hb.Health,
	)
	return err
}

func (r *PostgresRepository) ListAgents(ctx context.Context) ([]*agent.Agent, error) {
	query := `
		SELECT agent_id, name, type, capabilities, version, status,
		       config, registered_at, last_heartbeat
		FROM agents
		ORDER BY agent_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var agents []*agent.Agent
	for rows.Next() {
		var a agent.Agent
		var capabilities, config []byte
		if err := rows.Scan(
			&a.ID,
			&a.Name,
			&a.Type,
			&capabilities,
			&a.Version,
			&a.Status,
			&config,
			&a.RegisteredAt,
			&a.LastHeartbeat,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(capabilities, &a.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &a.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, e *event.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (
			event_id, task_id, run_id, agent_id, type, payload, timestamp, trace_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.TaskID,
		e.RunID,
		e.AgentID,
		e.Type,
		payload,
		e.Timestamp,
		e.TraceID,
	)
	return err
}

func (r *PostgresRepository) ListEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	query := `
		SELECT event_id, task_id, run_id, agent_id, type, payload, timestamp, trace_id
		FROM events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	var events []*event.Event
	for rows.Next() {
		var e event.Event
		var payload []byte
		if err := rows.Scan(
			&e.ID,
			&e.TaskID,
			&e.RunID,
			&e.AgentID,
			&e.Type,
			&payload,
			&e.Timestamp,
			&e.TraceID,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PostgresRepository) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	query := `
		SELECT status, COUNT(*) FROM tasks GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	stats := &models.QueueStats{TasksByType: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch task.Status(status) {
		case task.StatusPending:
			stats.Pending = count
		case task.StatusRunning:
			stats.Running = count
		case task.StatusCompleted:
			stats.Completed = count
		case task.StatusFailed:
			stats.Failed = count
		case task.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM tasks GROUP BY type`)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := typeRows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

	for typeRows.Next() {
		var taskType string
		var count int
		if err := typeRows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		stats.TasksByType[taskType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	avgQuery := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000), 0)
		FROM task_runs
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`
	if err := r.db.QueryRowContext(ctx, avgQuery).Scan(&stats.AvgExecutionTimeMs); err != nil {
		return nil, err
	}

	waitQuery := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (r.started_at - t.created_at)) * 1000), 0)
		FROM task_runs r
		JOIN tasks t ON t.task_id = r.task_id
		WHERE r.attempt = 1 AND r.started_at IS NOT NULL
	`
	if err := r.db.QueryRowContext(ctx, waitQuery).Scan(&stats.AvgWaitTimeMs); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
