package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/QFiSouthaven/Jynco-sub001/internal/config"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
)

// Processor handles one claimed job. A nil error acknowledges the job with
// the returned result; an error nacks it.
type Processor interface {
	Process(ctx context.Context, job *model.RenderJob) (model.JobResult, error)
}

// Pool runs segment workers, composition workers, the lease reaper and the
// reconciler against one queue.
type Pool struct {
	queue        queue.Queue
	orchestrator *service.Orchestrator
	segments     Processor
	compositions Processor
	cfg          config.WorkerConfig
}

func NewPool(q queue.Queue, orchestrator *service.Orchestrator, segments, compositions Processor, cfg config.WorkerConfig) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CompositionConcurrency < 1 {
		cfg.CompositionConcurrency = 1
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = 2 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 15 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	return &Pool{
		queue:        q,
		orchestrator: orchestrator,
		segments:     segments,
		compositions: compositions,
		cfg:          cfg,
	}
}

// Run blocks until ctx is cancelled and every in-progress job has returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		name := fmt.Sprintf("segment-%d", i+1)
		g.Go(func() error {
			return p.loop(ctx, name, model.JobKindSegment, p.segments)
		})
	}
	for i := 0; i < p.cfg.CompositionConcurrency; i++ {
		name := fmt.Sprintf("composition-%d", i+1)
		g.Go(func() error {
			return p.loop(ctx, name, model.JobKindComposition, p.compositions)
		})
	}
	g.Go(func() error {
		return p.every(ctx, p.cfg.ReapInterval, p.Reap)
	})
	g.Go(func() error {
		return p.every(ctx, p.cfg.ReconcileInterval, p.Reconcile)
	})

	log.Printf("[Worker] pool started (segment=%d, composition=%d)", p.cfg.Concurrency, p.cfg.CompositionConcurrency)
	err := g.Wait()
	log.Println("[Worker] pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, name string, kind model.JobKind, processor Processor) error {
	kinds := []model.JobKind{kind}
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := p.queue.Dequeue(ctx, kinds, p.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Worker:%s] dequeue failed: %v", name, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.cfg.DequeueWait):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, name, job, processor)
	}
}

// handle runs the processor and settles the job. Acks and nacks outlive
// ctx so a shutdown does not strand claimed jobs until their lease expires.
func (p *Pool) handle(ctx context.Context, name string, job *model.RenderJob, processor Processor) {
	result, err := processor.Process(ctx, job)
	settleCtx := context.WithoutCancel(ctx)

	if err == nil {
		if err := p.queue.Ack(settleCtx, job.ID, result); err != nil {
			if errors.Is(err, queue.ErrNotInFlight) {
				log.Printf("[Worker:%s] job %s lease expired before ack", name, job.ID)
				return
			}
			log.Printf("[Worker:%s] failed to ack job %s: %v", name, job.ID, err)
		}
		return
	}

	log.Printf("[Worker:%s] job %s nacked: %v", name, job.ID, err)
	dead, nackErr := p.queue.Nack(settleCtx, job.ID, err.Error())
	if nackErr != nil {
		log.Printf("[Worker:%s] failed to nack job %s: %v", name, job.ID, nackErr)
		return
	}
	if dead {
		job.LastError = err.Error()
		p.deadLetter(settleCtx, job)
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Reap redelivers expired leases and reports dead-lettered jobs.
func (p *Pool) Reap(ctx context.Context) {
	dead, err := p.queue.Reap(ctx)
	if err != nil {
		log.Printf("[Worker] reap failed: %v", err)
		return
	}
	for _, job := range dead {
		p.deadLetter(ctx, job)
	}
}

// Reconcile recovers segments and compositions whose jobs were lost, for
// instance when a retry could not be enqueued.
func (p *Pool) Reconcile(ctx context.Context) {
	n, err := p.orchestrator.Reconcile(ctx)
	if err != nil {
		log.Printf("[Worker] reconcile failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Worker] reconciled %d project(s) with work in flight", n)
	}
}

func (p *Pool) deadLetter(ctx context.Context, job *model.RenderJob) {
	log.Printf("[Worker] job %s (%s) dead-lettered: %s", job.ID, job.Kind, job.LastError)
	if err := p.orchestrator.HandleDeadLetter(ctx, job); err != nil {
		log.Printf("[Worker] failed to handle dead-lettered job %s: %v", job.ID, err)
	}
}
