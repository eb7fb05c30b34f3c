// Package queue implements the Redis-backed pending and delayed task
// queues. Pending tasks are held in a sorted set scored so that lower
// priority values dispatch first with FIFO order inside a priority class;
// delayed tasks (retry backoff, scheduled submissions) sit in a second
// sorted set keyed by their ready time until promoted.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	taskHashKey = "tasks"
	pendingKey  = "task_pending"
	delayedKey  = "task_delayed"

	// Wide enough to keep priority classes disjoint for millisecond
	// timestamps well past 2100.
	priorityBand = 1e13
)

type Queue struct {
	client *redis.Client
	ctx    context.Context
}

func NewQueue(redisAddr string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{
		client: client,
		ctx:    ctx,
	}, nil
}

func pendingScore(t *task.Task) float64 {
	return float64(t.Priority)*priorityBand + float64(t.CreatedAt.UnixMilli())
}

// Enqueue stores the task snapshot and places it on the pending queue, or
// on the delayed queue when its scheduled time is still in the future.
func (q *Queue) Enqueue(t *task.Task) error {
	if t.ScheduledAt.After(time.Now()) {
		return q.EnqueueDelayed(t, t.ScheduledAt)
	}

	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	if err := q.client.HSet(q.ctx, taskHashKey, t.ID, taskJSON).Err(); err != nil {
		return err
	}

	return q.client.ZAdd(q.ctx, pendingKey, redis.Z{
		Score:  pendingScore(t),
		Member: t.ID,
	}).Err()
}

// EnqueueDelayed parks the task until readyAt; PromoteDue moves it onto the
// pending queue once the time has passed.
func (q *Queue) EnqueueDelayed(t *task.Task, readyAt time.Time) error {
	taskJSON, err := t.ToJSON()
	if err != nil {
		return err
	}

	if err := q.client.HSet(q.ctx, taskHashKey, t.ID, taskJSON).Err(); err != nil {
		return err
	}

	return q.client.ZAdd(q.ctx, delayedKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: t.ID,
	}).Err()
}

// PromoteDue moves delayed tasks whose ready time has passed onto the
// pending queue. Returns how many were promoted.
func (q *Queue) PromoteDue(now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(q.ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		taskJSON, err := q.client.HGet(q.ctx, taskHashKey, id).Result()
		if err != nil {
			q.client.ZRem(q.ctx, delayedKey, id)
			continue
		}
		t, err := task.FromJSON(taskJSON)
		if err != nil {
			q.client.ZRem(q.ctx, delayedKey, id)
			continue
		}
		if err := q.client.ZAdd(q.ctx, pendingKey, redis.Z{
			Score:  pendingScore(t),
			Member: id,
		}).Err(); err != nil {
			return promoted, err
		}
		q.client.ZRem(q.ctx, delayedKey, id)
		promoted++
	}
	return promoted, nil
}

// Scan returns up to limit pending tasks in dispatch order without
// consuming them; the scheduler removes a task only once it is dispatched.
func (q *Queue) Scan(limit int) ([]*task.Task, error) {
	ids, err := q.client.ZRangeByScore(q.ctx, pendingKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		taskJSON, err := q.client.HGet(q.ctx, taskHashKey, id).Result()
		if err != nil {
			q.client.ZRem(q.ctx, pendingKey, id)
			continue
		}
		t, err := task.FromJSON(taskJSON)
		if err != nil {
			q.client.ZRem(q.ctx, pendingKey, id)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Contains reports whether the task sits on either queue.
func (q *Queue) Contains(taskID string) (bool, error) {
	for _, key := range []string{pendingKey, delayedKey} {
		err := q.client.ZScore(q.ctx, key, taskID).Err()
		if err == nil {
			return true, nil
		}
		if err != redis.Nil {
			return false, err
		}
	}
	return false, nil
}

// Remove takes the task off both queues and drops its snapshot.
func (q *Queue) Remove(taskID string) error {
	if err := q.client.ZRem(q.ctx, pendingKey, taskID).Err(); err != nil {
		return err
	}
	if err := q.client.ZRem(q.ctx, delayedKey, taskID).Err(); err != nil {
		return err
	}
	return q.client.HDel(q.ctx, taskHashKey, taskID).Err()
}

// Depth reports the pending and delayed queue sizes.
func (q *Queue) Depth() (pending int64, delayed int64, err error) {
	pending, err = q.client.ZCard(q.ctx, pendingKey).Result()
	if err != nil {
		return 0, 0, err
	}
	delayed, err = q.client.ZCard(q.ctx, delayedKey).Result()
	return pending, delayed, err
}

func (q *Queue) Close() error {
	return q.client.Close()
}
