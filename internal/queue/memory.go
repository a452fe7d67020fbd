package queue

import (
	"context"
	"sync"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// MemoryQueue keeps one FIFO per priority tier in process memory.
type MemoryQueue struct {
	mu       sync.Mutex
	opts     Options
	jobs     map[string]*model.RenderJob
	ready    map[model.Priority][]string
	inflight map[string]time.Time
	wake     chan struct{}
	now      func() time.Time
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:     opts.withDefaults(),
		jobs:     make(map[string]*model.RenderJob),
		ready:    make(map[model.Priority][]string),
		inflight: make(map[string]time.Time),
		wake:     make(chan struct{}),
		now:      time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.RenderJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := prepare(job, q.now()); err != nil {
		return "", err
	}
	if _, exists := q.jobs[job.ID]; exists {
		return "", ErrDuplicate
	}

	stored := *job
	q.jobs[job.ID] = &stored
	q.ready[job.Priority] = append(q.ready[job.Priority], job.ID)
	q.signalLocked()
	return job.ID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, kinds []model.JobKind, wait time.Duration) (*model.RenderJob, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		job, next := q.claimLocked(kinds)
		wake := q.wake
		q.mu.Unlock()

		if job != nil {
			return job, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		sleep := remaining
		if !next.IsZero() {
			if d := next.Sub(q.now()); d < sleep {
				sleep = d
			}
			if sleep < time.Millisecond {
				sleep = time.Millisecond
			}
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claimLocked takes the oldest due job of the highest non-empty tier. When
// only delayed jobs match it returns the earliest time one becomes due.
func (q *MemoryQueue) claimLocked(kinds []model.JobKind) (*model.RenderJob, time.Time) {
	now := q.now()
	var next time.Time

	for _, p := range model.Priorities {
		ids := q.ready[p]
		for i, id := range ids {
			job := q.jobs[id]
			if !matchesKind(kinds, job.Kind) {
				continue
			}
			if job.NotBefore.After(now) {
				if next.IsZero() || job.NotBefore.Before(next) {
					next = job.NotBefore
				}
				continue
			}

			q.ready[p] = append(ids[:i:i], ids[i+1:]...)
			job.Status = model.JobStatusRunning
			job.Attempts++
			started := now
			job.StartedAt = &started
			q.inflight[id] = now.Add(q.opts.VisibilityTimeout)
			out := *job
			return &out, time.Time{}
		}
	}
	return nil, next
}

func (q *MemoryQueue) Ack(ctx context.Context, jobID string, result model.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := q.inflight[jobID]; !ok {
		return ErrNotInFlight
	}
	delete(q.inflight, jobID)
	applyAck(job, result, q.now())
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, jobID, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[jobID]; !ok {
		return false, ErrNotFound
	}
	if _, ok := q.inflight[jobID]; !ok {
		return false, ErrNotInFlight
	}
	return q.nackLocked(jobID, reason), nil
}

func (q *MemoryQueue) nackLocked(jobID, reason string) bool {
	job := q.jobs[jobID]
	delete(q.inflight, jobID)
	if applyNack(job, reason, q.opts.MaxNacks, q.now()) {
		return true
	}
	q.ready[job.Priority] = append(q.ready[job.Priority], jobID)
	q.signalLocked()
	return false
}

func (q *MemoryQueue) Get(ctx context.Context, jobID string) (*model.RenderJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *job
	return &out, nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	switch job.Status {
	case model.JobStatusPending:
		ids := q.ready[job.Priority]
		for i, id := range ids {
			if id == jobID {
				q.ready[job.Priority] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		applyCancel(job, q.now())
	case model.JobStatusRunning:
		job.Cancelled = true
	}
	return nil
}

func (q *MemoryQueue) Reap(ctx context.Context) ([]*model.RenderJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var dead []*model.RenderJob
	for id, deadline := range q.inflight {
		if now.Before(deadline) {
			continue
		}
		if q.nackLocked(id, leaseExpiredReason) {
			out := *q.jobs[id]
			dead = append(dead, &out)
		}
	}

	cutoff := now.Add(-q.opts.Retention)
	for id, job := range q.jobs {
		if _, claimed := q.inflight[id]; claimed || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
	return dead, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (map[model.Priority]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := make(map[model.Priority]int, len(model.Priorities))
	for _, p := range model.Priorities {
		depth[p] = len(q.ready[p])
	}
	return depth, nil
}

func (q *MemoryQueue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
