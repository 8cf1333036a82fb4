package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldName         = "name"
	fieldPayload      = "payload"
	fieldState        = "state"
	fieldProgress     = "progress"
	fieldAttemptsMade = "attempts_made"
	fieldMaxAttempts  = "max_attempts"
	fieldCreatedAt    = "created_at"
	fieldReservedAt   = "reserved_at"
	fieldResult       = "result"
	fieldError        = "error"
)

// RedisBroker stores tasks in redis: one hash per task, a wait list, an active list,
// a delayed sorted set scored by ready time, and capped completed/failed lists.
type RedisBroker struct {
	client redis.Cmdable
	prefix string
	opts   Options
	now    func() time.Time
}

// NewRedisBroker builds a broker whose keys all live under prefix.
func NewRedisBroker(client redis.Cmdable, prefix string, opts Options) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("queue key prefix is required")
	}
	if opts.Attempts <= 0 {
		return nil, errors.New("queue attempts must be positive")
	}
	return &RedisBroker{client: client, prefix: prefix, opts: opts, now: time.Now}, nil
}

func (b *RedisBroker) waitKey() string      { return b.prefix + ":wait" }
func (b *RedisBroker) activeKey() string    { return b.prefix + ":active" }
func (b *RedisBroker) delayedKey() string   { return b.prefix + ":delayed" }
func (b *RedisBroker) completedKey() string { return b.prefix + ":completed" }
func (b *RedisBroker) failedKey() string    { return b.prefix + ":failed" }
func (b *RedisBroker) taskKey(id string) string {
	return b.prefix + ":task:" + id
}

func (b *RedisBroker) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	data, err := marshalPayload(name, payload)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.taskKey(id), map[string]any{
			fieldName:         name,
			fieldPayload:      string(data),
			fieldState:        string(TaskStateWaiting),
			fieldProgress:     0,
			fieldAttemptsMade: 0,
			fieldMaxAttempts:  b.opts.Attempts,
			fieldCreatedAt:    b.now().UTC().Format(time.RFC3339Nano),
		})
		pipe.LPush(ctx, b.waitKey(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return id, nil
}

func (b *RedisBroker) GetStatus(ctx context.Context, id string) (*Status, error) {
	fields, err := b.client.HGetAll(ctx, b.taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	task := taskFromHash(id, fields)
	status := &Status{
		ID:           task.ID,
		Name:         task.Name,
		State:        task.State,
		Progress:     task.Progress,
		AttemptsMade: task.AttemptsMade,
		Error:        fields[fieldError],
	}
	if raw := fields[fieldResult]; raw != "" {
		status.Result = json.RawMessage(raw)
	}
	return status, nil
}

func (b *RedisBroker) Reserve(ctx context.Context, wait time.Duration) (*Task, error) {
	id, err := b.client.BLMove(ctx, b.waitKey(), b.activeKey(), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	key := b.taskKey(id)
	var fieldsCmd *redis.MapStringStringCmd
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldAttemptsMade, 1)
		pipe.HSet(ctx, key, fieldState, string(TaskStateActive), fieldReservedAt, b.now().UnixMilli())
		fieldsCmd = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark task %s active: %w", id, err)
	}
	fields := fieldsCmd.Val()
	if fields[fieldName] == "" {
		// Hash evicted while the id was still queued; drop the dangling id.
		b.client.LRem(ctx, b.activeKey(), 1, id)
		b.client.Del(ctx, key)
		return nil, nil
	}
	return taskFromHash(id, fields), nil
}

func (b *RedisBroker) Progress(ctx context.Context, id string, pct int) error {
	if err := b.requireActive(ctx, id); err != nil {
		return err
	}
	return b.client.HSet(ctx, b.taskKey(id),
		fieldProgress, clampProgress(pct),
		fieldReservedAt, b.now().UnixMilli(),
	).Err()
}

func (b *RedisBroker) Complete(ctx context.Context, id string, result any) error {
	if err := b.requireActive(ctx, id); err != nil {
		return err
	}
	values := []any{fieldState, string(TaskStateCompleted), fieldProgress, 100}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		values = append(values, fieldResult, string(data))
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.activeKey(), 1, id)
		pipe.HSet(ctx, b.taskKey(id), values...)
		pipe.LPush(ctx, b.completedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return b.trim(ctx, b.completedKey(), b.opts.KeepCompleted)
}

func (b *RedisBroker) Retry(ctx context.Context, id string, cause error, delay time.Duration) error {
	if err := b.requireActive(ctx, id); err != nil {
		return err
	}
	readyAt := b.now().Add(delay).UnixMilli()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.activeKey(), 1, id)
		pipe.HSet(ctx, b.taskKey(id), fieldState, string(TaskStateDelayed), fieldError, errorText(cause))
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: float64(readyAt), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry task %s: %w", id, err)
	}
	return nil
}

func (b *RedisBroker) Fail(ctx context.Context, id string, cause error) error {
	if err := b.requireActive(ctx, id); err != nil {
		return err
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.activeKey(), 1, id)
		pipe.HSet(ctx, b.taskKey(id), fieldState, string(TaskStateFailed), fieldError, errorText(cause))
		pipe.LPush(ctx, b.failedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail task %s: %w", id, err)
	}
	return b.trim(ctx, b.failedKey(), b.opts.KeepFailed)
}

func (b *RedisBroker) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read delayed tasks: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		// ZREM decides which consumer owns the promotion.
		removed, err := b.client.ZRem(ctx, b.delayedKey(), id).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed task %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		if err := b.requeue(ctx, id); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (b *RedisBroker) RequeueStalled(ctx context.Context, reservedBefore time.Time) (*StallReport, error) {
	ids, err := b.client.LRange(ctx, b.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read active tasks: %w", err)
	}

	cutoff := reservedBefore.UnixMilli()
	report := &StallReport{}
	for _, id := range ids {
		fields, err := b.client.HGetAll(ctx, b.taskKey(id)).Result()
		if err != nil {
			return report, fmt.Errorf("read task %s: %w", id, err)
		}
		reservedAt, _ := strconv.ParseInt(fields[fieldReservedAt], 10, 64)
		if reservedAt >= cutoff {
			continue
		}
		removed, err := b.client.LRem(ctx, b.activeKey(), 1, id).Result()
		if err != nil {
			return report, fmt.Errorf("claim stalled task %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}

		task := taskFromHash(id, fields)
		if task.Name == "" {
			b.client.Del(ctx, b.taskKey(id))
			continue
		}
		if task.Exhausted() {
			if err := b.failStalled(ctx, id); err != nil {
				return report, err
			}
			task.State = TaskStateFailed
			report.Failed = append(report.Failed, task)
			continue
		}
		if err := b.requeue(ctx, id); err != nil {
			return report, err
		}
		report.Requeued++
	}
	return report, nil
}

func (b *RedisBroker) failStalled(ctx context.Context, id string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.taskKey(id), fieldState, string(TaskStateFailed), fieldError, ErrStalled.Error())
		pipe.LPush(ctx, b.failedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail stalled task %s: %w", id, err)
	}
	return b.trim(ctx, b.failedKey(), b.opts.KeepFailed)
}

func (b *RedisBroker) requeue(ctx context.Context, id string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.taskKey(id), fieldState, string(TaskStateWaiting))
		pipe.LPush(ctx, b.waitKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	return nil
}

func (b *RedisBroker) requireActive(ctx context.Context, id string) error {
	state, err := b.client.HGet(ctx, b.taskKey(id), fieldState).Result()
	if errors.Is(err, redis.Nil) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("read task %s state: %w", id, err)
	}
	if TaskState(state) != TaskStateActive {
		return fmt.Errorf("task %s is %s, not active", id, state)
	}
	return nil
}

// trimHistory drops list entries past ARGV[1] and deletes their task hashes
// (ARGV[2] is the hash key prefix) in one step, so concurrent pushes cannot shift
// ids between the read and the trim.
var trimHistory = redis.NewScript(`
local evicted = redis.call('LRANGE', KEYS[1], ARGV[1], -1)
if #evicted == 0 then
  return 0
end
redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[1]) - 1)
for _, id in ipairs(evicted) do
  redis.call('DEL', ARGV[2] .. id)
end
return #evicted
`)

// trim caps a history list at keep entries and deletes the hashes of evicted tasks.
func (b *RedisBroker) trim(ctx context.Context, listKey string, keep int) error {
	if keep <= 0 {
		return nil
	}
	if err := trimHistory.Run(ctx, b.client, []string{listKey}, keep, b.taskKey("")).Err(); err != nil {
		return fmt.Errorf("trim %s: %w", listKey, err)
	}
	return nil
}

func taskFromHash(id string, fields map[string]string) *Task {
	task := &Task{
		ID:      id,
		Name:    fields[fieldName],
		Payload: json.RawMessage(fields[fieldPayload]),
		State:   TaskState(fields[fieldState]),
	}
	task.Progress, _ = strconv.Atoi(fields[fieldProgress])
	task.AttemptsMade, _ = strconv.Atoi(fields[fieldAttemptsMade])
	task.MaxAttempts, _ = strconv.Atoi(fields[fieldMaxAttempts])
	if created, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err == nil {
		task.CreatedAt = created
	}
	return task
}
