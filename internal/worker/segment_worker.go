package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/service"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
)

// SegmentWorker generates one segment per job: submit to the backend,
// poll until it settles, then report the outcome to the orchestrator.
type SegmentWorker struct {
	orchestrator *service.Orchestrator
	queue        queue.Queue
	registry     *client.Registry
	storage      client.StorageClient
	content      *client.ContentFetcher
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewSegmentWorker creates a segment worker. When storage is set, finished
// artifacts are copied into it before being reported.
func NewSegmentWorker(
	orchestrator *service.Orchestrator,
	q queue.Queue,
	registry *client.Registry,
	storage client.StorageClient,
	content *client.ContentFetcher,
	pollInterval, maxWait time.Duration,
) *SegmentWorker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if maxWait <= 0 {
		maxWait = 3 * time.Minute
	}
	return &SegmentWorker{
		orchestrator: orchestrator,
		queue:        q,
		registry:     registry,
		storage:      storage,
		content:      content,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Process handles one segment-generation job. A nil error means the job
// should be acknowledged with the returned result; an error means the
// infrastructure failed and the job should be nacked.
func (w *SegmentWorker) Process(ctx context.Context, job *model.RenderJob) (model.JobResult, error) {
	var payload model.SegmentJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("[Worker] job %s has an invalid payload: %v", job.ID, err)
		return model.JobResult{Error: "invalid payload"}, nil
	}

	if _, err := w.orchestrator.MarkGenerating(ctx, &payload, job.ID); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			log.Printf("[Worker] job %s superseded before it started", job.ID)
			return model.JobResult{Error: "superseded"}, nil
		}
		return model.JobResult{}, err
	}
	log.Printf("[Worker] generating segment %s (job=%s, attempt=%d, backend=%s)", payload.SegmentID, job.ID, payload.Attempt, payload.Directive.Backend)

	// A previous delivery may have produced the artifact before dying.
	if ref, ok := w.orchestrator.CachedArtifact(ctx, payload.Fingerprint); ok {
		if err := w.orchestrator.HandleJobSucceeded(ctx, &payload, job.ID, ref); err != nil {
			return model.JobResult{}, err
		}
		return model.JobResult{ArtifactRef: ref}, nil
	}

	ref, genErr := w.generate(ctx, job, &payload)
	switch {
	case errors.Is(genErr, errCancelled):
		log.Printf("[Worker] job %s cancelled", job.ID)
		return model.JobResult{Error: "cancelled"}, nil
	case genErr != nil && ctx.Err() != nil:
		return model.JobResult{}, fmt.Errorf("worker stopped: %w", ctx.Err())
	case genErr != nil:
		failure := service.JobFailure{
			Message:   genErr.Error(),
			Code:      client.ErrorCode(genErr),
			Permanent: client.IsPermanent(genErr),
		}
		log.Printf("[Worker] job %s failed (permanent=%v): %v", job.ID, failure.Permanent, genErr)
		if err := w.orchestrator.HandleJobFailed(ctx, &payload, job.ID, failure); err != nil {
			return model.JobResult{}, err
		}
		return model.JobResult{Error: failure.Message}, nil
	}

	ref = w.mirror(ctx, &payload, ref)
	if err := w.orchestrator.HandleJobSucceeded(ctx, &payload, job.ID, ref); err != nil {
		return model.JobResult{}, err
	}
	log.Printf("[Worker] segment %s generated: %s", payload.SegmentID, ref)
	return model.JobResult{ArtifactRef: ref}, nil
}

var errCancelled = errors.New("job cancelled")

// generate submits the directive and polls until the backend settles,
// the job is cancelled, or maxWait elapses.
func (w *SegmentWorker) generate(ctx context.Context, job *model.RenderJob, payload *model.SegmentJobPayload) (string, error) {
	gen, err := w.registry.Get(payload.Directive.Backend)
	if err != nil {
		return "", err
	}
	externalID, err := gen.Submit(ctx, payload.Directive)
	if err != nil {
		return "", err
	}

	deadline := time.NewTimer(w.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if w.cancelled(ctx, job.ID, payload) {
			w.abort(gen, externalID)
			return "", errCancelled
		}

		result, err := gen.Poll(ctx, externalID)
		switch {
		case err != nil && client.IsPermanent(err):
			return "", err
		case err != nil:
			log.Printf("[Worker] poll of %s failed, will retry: %v", externalID, err)
		case result.Status == client.PollSucceeded:
			return gen.Fetch(ctx, externalID)
		case result.Status == client.PollFailed:
			if result.Permanent {
				return "", client.Permanent(result.Code, result.Message, nil)
			}
			return "", client.Transient(result.Code, result.Message, nil)
		}

		select {
		case <-ctx.Done():
			w.abort(gen, externalID)
			return "", ctx.Err()
		case <-deadline.C:
			w.abort(gen, externalID)
			return "", client.Transient("TIMEOUT", fmt.Sprintf("generation did not finish within %s", w.maxWait), nil)
		case <-ticker.C:
		}
	}
}

func (w *SegmentWorker) cancelled(ctx context.Context, jobID string, payload *model.SegmentJobPayload) bool {
	job, err := w.queue.Get(ctx, jobID)
	if err == nil && job.Cancelled {
		return true
	}
	return !w.orchestrator.IsCurrent(ctx, payload, jobID)
}

// abort asks the backend to stop, when it supports that.
func (w *SegmentWorker) abort(gen client.Generator, externalID string) {
	c, ok := gen.(client.Canceler)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Cancel(ctx, externalID); err != nil {
		log.Printf("[Worker] failed to cancel backend job %s: %v", externalID, err)
	}
}

// mirror copies the artifact into object storage and returns its public
// URL. On failure the backend reference is kept.
func (w *SegmentWorker) mirror(ctx context.Context, payload *model.SegmentJobPayload, ref string) string {
	if w.storage == nil || w.content == nil {
		return ref
	}
	body, err := w.content.Open(ctx, ref)
	if err != nil {
		log.Printf("[Worker] failed to download %s for mirroring: %v", ref, err)
		return ref
	}
	defer body.Close()

	url, err := w.storage.Upload(ctx, ArtifactKey(payload.Fingerprint), body, "video/mp4")
	if err != nil {
		log.Printf("[Worker] failed to mirror %s: %v", ref, err)
		return ref
	}
	return url
}

// ArtifactKey is the storage key of a generated segment.
func ArtifactKey(fingerprint string) string {
	return "artifacts/" + fingerprint + ".mp4"
}
