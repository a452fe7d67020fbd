// Package queue is the priority job queue shared by the orchestrator and
// the worker pool. Delivery is at-least-once: a claimed job that is not
// acknowledged within the visibility timeout is offered again, and a job
// nacked MaxNacks times is dead-lettered.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrDuplicate   = errors.New("job already exists")
	ErrNotInFlight = errors.New("job is not in flight")
	ErrUnavailable = errors.New("queue unavailable")
)

const leaseExpiredReason = "visibility timeout expired"

// Queue is implemented by MemoryQueue and RedisQueue.
type Queue interface {
	Enqueue(ctx context.Context, job *model.RenderJob) (string, error)
	// Dequeue blocks up to wait for a job of one of kinds. It returns nil, nil
	// when nothing became available.
	Dequeue(ctx context.Context, kinds []model.JobKind, wait time.Duration) (*model.RenderJob, error)
	Ack(ctx context.Context, jobID string, result model.JobResult) error
	Nack(ctx context.Context, jobID, reason string) (deadLettered bool, err error)
	Get(ctx context.Context, jobID string) (*model.RenderJob, error)
	// Cancel flags a job. A job that was never claimed is failed immediately;
	// a running job keeps running until its worker observes the flag.
	Cancel(ctx context.Context, jobID string) error
	// Reap redelivers jobs whose lease expired and returns the ones that were
	// dead-lettered by it. Finished jobs older than the retention are dropped.
	Reap(ctx context.Context) ([]*model.RenderJob, error)
	Depth(ctx context.Context) (map[model.Priority]int, error)
}

// Options tune delivery semantics.
type Options struct {
	VisibilityTimeout time.Duration
	MaxNacks          int
	PollInterval      time.Duration // redis only
	Retention         time.Duration // how long finished jobs stay readable
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 5 * time.Minute
	}
	if o.MaxNacks <= 0 {
		o.MaxNacks = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	return o
}

// prepare fills identity and bookkeeping fields of a job about to be enqueued.
func prepare(job *model.RenderJob, now time.Time) error {
	if job.Kind != model.JobKindSegment && job.Kind != model.JobKindComposition {
		return errors.New("unknown job kind: " + string(job.Kind))
	}
	if job.Priority == "" {
		job.Priority = model.PriorityNormal
	}
	if !job.Priority.Valid() {
		return errors.New("unknown priority: " + string(job.Priority))
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	return nil
}

func matchesKind(kinds []model.JobKind, kind model.JobKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// applyAck records the terminal result of a claimed job.
func applyAck(job *model.RenderJob, result model.JobResult, now time.Time) {
	job.Result = &result
	if result.Error != "" {
		job.Status = model.JobStatusFailed
		job.LastError = result.Error
	} else {
		job.Status = model.JobStatusCompleted
	}
	job.CompletedAt = &now
}

// applyNack counts a negative acknowledgement and reports whether the job is now dead.
func applyNack(job *model.RenderJob, reason string, maxNacks int, now time.Time) bool {
	job.Nacks++
	job.LastError = reason
	if job.Nacks >= maxNacks {
		job.Status = model.JobStatusFailed
		job.DeadLetter = true
		job.CompletedAt = &now
		return true
	}
	job.Status = model.JobStatusPending
	return false
}

func applyCancel(job *model.RenderJob, now time.Time) {
	job.Cancelled = true
	job.Status = model.JobStatusFailed
	job.LastError = "cancelled"
	job.CompletedAt = &now
}
