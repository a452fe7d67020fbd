package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

const (
	keyJobs      = "rq:jobs"
	keyRoute     = "rq:route"
	keyDelayed   = "rq:delayed"
	keyInflight  = "rq:inflight"
	keyCancelled = "rq:cancelled"
	keyDone      = "rq:done"
)

var kinds = []model.JobKind{model.JobKindSegment, model.JobKindComposition}

func readyKey(kind model.JobKind, p model.Priority) string {
	return fmt.Sprintf("rq:ready:%s:%s", kind, p)
}

// claimScript pops the first id found in the ready lists (given in priority
// order) and leases it in the same step.
var claimScript = redis.NewScript(`
for i = 2, #KEYS do
  local id = redis.call('LPOP', KEYS[i])
  if id then
    redis.call('ZADD', KEYS[1], ARGV[1], id)
    return id
  end
end
return false
`)

// promoteScript moves due delayed jobs onto their ready lists.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local list = redis.call('HGET', KEYS[2], id)
  if list then
    redis.call('RPUSH', list, id)
  end
end
return #ids
`)

// The write scripts below perform the only step that can fail on a healthy
// server (pushing onto a list) before touching the job record, so an error
// leaves no partial state behind.

// enqueueScript stores a new job and makes it claimable, or returns 0 when
// the id is taken.
var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
if ARGV[3] == '0' then
  redis.call('RPUSH', KEYS[3], ARGV[1])
else
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
end
redis.call('HSET', KEYS[2], ARGV[1], KEYS[3])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// settleScript records the outcome of a claimed job. ARGV[3] requeues it,
// ARGV[4] marks it finished. Returns 0 when the job is no longer in flight.
var settleScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
if ARGV[3] == '1' then
  redis.call('RPUSH', KEYS[4], ARGV[1])
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
if ARGV[4] == '1' then
  redis.call('HDEL', KEYS[3], ARGV[1])
  redis.call('ZADD', KEYS[5], ARGV[5], ARGV[1])
end
return 1
`)

// cancelScript flags a job and fails it when it was still waiting. Returns
// 0 when the job had already been claimed.
var cancelScript = redis.NewScript(`
redis.call('SADD', KEYS[5], ARGV[1])
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if removed == 0 then
  return 0
end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[6], ARGV[3], ARGV[1])
return 1
`)

// sweepScript drops finished jobs older than the retention cutoff.
var sweepScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
  redis.call('SREM', KEYS[3], id)
  redis.call('HDEL', KEYS[4], id)
end
return #ids
`)

const sweepBatch = 500

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// RedisQueue shares the job queue between engine replicas.
type RedisQueue struct {
	redis *redis.Client
	opts  Options
}

func NewRedisQueue(redisClient *redis.Client, opts Options) *RedisQueue {
	return &RedisQueue{redis: redisClient, opts: opts.withDefaults()}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *model.RenderJob) (string, error) {
	now := time.Now()
	if err := prepare(job, now); err != nil {
		return "", err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	notBefore := "0"
	if job.NotBefore.After(now) {
		notBefore = strconv.FormatInt(job.NotBefore.UnixMilli(), 10)
	}
	keys := []string{keyJobs, keyRoute, readyKey(job.Kind, job.Priority), keyDelayed}
	created, err := enqueueScript.Run(ctx, q.redis, keys, job.ID, data, notBefore).Int()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return "", ErrDuplicate
	}
	return job.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, jobKinds []model.JobKind, wait time.Duration) (*model.RenderJob, error) {
	if len(jobKinds) == 0 {
		jobKinds = kinds
	}
	keys := []string{keyInflight}
	for _, p := range model.Priorities {
		for _, k := range jobKinds {
			keys = append(keys, readyKey(k, p))
		}
	}

	deadline := time.Now().Add(wait)
	for {
		job, err := q.tryClaim(ctx, keys)
		if err != nil || job != nil {
			return job, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		sleep := q.opts.PollInterval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (q *RedisQueue) tryClaim(ctx context.Context, keys []string) (*model.RenderJob, error) {
	now := time.Now()
	if err := promoteScript.Run(ctx, q.redis, []string{keyDelayed, keyRoute}, now.UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	lease := now.Add(q.opts.VisibilityTimeout).UnixMilli()
	id, err := claimScript.Run(ctx, q.redis, keys, lease).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = model.JobStatusRunning
	job.Attempts++
	job.StartedAt = &now
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string, result model.JobResult) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	applyAck(job, result, time.Now())
	return q.settle(ctx, job, false)
}

func (q *RedisQueue) Nack(ctx context.Context, jobID, reason string) (bool, error) {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return false, err
	}
	dead := applyNack(job, reason, q.opts.MaxNacks, time.Now())
	if err := q.settle(ctx, job, !dead); err != nil {
		return false, err
	}
	return dead, nil
}

// settle writes job back and takes it out of flight; only one caller can
// win. Requeued jobs go back on their ready list, the rest are finished.
func (q *RedisQueue) settle(ctx context.Context, job *model.RenderJob, requeue bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	keys := []string{keyInflight, keyJobs, keyRoute, readyKey(job.Kind, job.Priority), keyDone}
	n, err := settleScript.Run(ctx, q.redis, keys, job.ID, data, flag(requeue), flag(!requeue), time.Now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotInFlight
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*model.RenderJob, error) {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	cancelled, err := q.redis.SIsMember(ctx, keyCancelled, jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	job.Cancelled = job.Cancelled || cancelled
	return job, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed {
		return nil
	}

	// A claimed job is only flagged; its worker settles it.
	now := time.Now()
	applyCancel(job, now)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	keys := []string{readyKey(job.Kind, job.Priority), keyDelayed, keyJobs, keyRoute, keyCancelled, keyDone}
	if err := cancelScript.Run(ctx, q.redis, keys, jobID, data, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (q *RedisQueue) Reap(ctx context.Context) ([]*model.RenderJob, error) {
	now := time.Now()
	expired, err := q.redis.ZRangeByScore(ctx, keyInflight, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var dead []*model.RenderJob
	for _, id := range expired {
		job, err := q.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.redis.ZRem(ctx, keyInflight, id)
			continue
		}
		if err != nil {
			return dead, err
		}
		isDead := applyNack(job, leaseExpiredReason, q.opts.MaxNacks, now)
		err = q.settle(ctx, job, !isDead)
		if errors.Is(err, ErrNotInFlight) {
			continue // acked or reaped elsewhere
		}
		if err != nil {
			return dead, err
		}
		if isDead {
			dead = append(dead, job)
		} else {
			log.Printf("[Queue] lease expired, redelivering job %s", id)
		}
	}

	cutoff := now.Add(-q.opts.Retention).UnixMilli()
	swept, err := sweepScript.Run(ctx, q.redis, []string{keyDone, keyJobs, keyCancelled, keyRoute}, cutoff, sweepBatch).Int()
	if err != nil {
		return dead, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if swept > 0 {
		log.Printf("[Queue] removed %d finished job(s) past retention", swept)
	}
	return dead, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (map[model.Priority]int, error) {
	depth := make(map[model.Priority]int, len(model.Priorities))
	for _, p := range model.Priorities {
		for _, k := range kinds {
			n, err := q.redis.LLen(ctx, readyKey(k, p)).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			depth[p] += int(n)
		}
	}
	return depth, nil
}

func (q *RedisQueue) load(ctx context.Context, jobID string) (*model.RenderJob, error) {
	data, err := q.redis.HGet(ctx, keyJobs, jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var job model.RenderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, job *model.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.redis.HSet(ctx, keyJobs, job.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
