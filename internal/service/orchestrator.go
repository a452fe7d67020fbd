package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/cache"
	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/fingerprint"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
)

// Notifier receives progress events for a project.
type Notifier interface {
	Notify(projectID, msgType string, data interface{})
}

// ContentResolver loads the bytes behind a directive's input reference.
type ContentResolver interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// JobFailure describes why a generation job did not produce an artifact.
type JobFailure struct {
	Message   string
	Code      string
	Permanent bool
}

// Orchestrator drives segments through pending → queued → generating →
// completed/failed. It keeps no state of its own between calls: every
// decision is re-derived from the store and every write is conditional.
type Orchestrator struct {
	store    store.Store
	queue    queue.Queue
	cache    cache.Cache
	registry *client.Registry
	content  ContentResolver
	notifier Notifier
	retry    RetryPolicy
	now      func() time.Time
}

func NewOrchestrator(
	st store.Store,
	q queue.Queue,
	c cache.Cache,
	registry *client.Registry,
	content ContentResolver,
	notifier Notifier,
	retry RetryPolicy,
) *Orchestrator {
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy
	}
	return &Orchestrator{
		store:    st,
		queue:    q,
		cache:    c,
		registry: registry,
		content:  content,
		notifier: notifier,
		retry:    retry,
		now:      time.Now,
	}
}

// Render starts a new render attempt for the project.
func (o *Orchestrator) Render(ctx context.Context, projectID string, interactive bool) (*model.RenderResponse, error) {
	project, segments, err := o.store.Load(ctx, projectID)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	if len(segments) == 0 {
		return nil, ErrEmptyProject
	}

	render := &model.Render{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		Interactive: interactive,
	}
	if err := o.store.CreateRender(ctx, render); err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	log.Printf("[Orchestrator] render %s started for project %s (interactive=%v, segments=%d)", render.ID, project.ID, interactive, len(segments))

	queued, hits, err := o.evaluate(ctx, render, segments)
	if err != nil {
		return nil, err
	}

	status, err := o.Status(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &model.RenderResponse{
		RenderID:  render.ID,
		ProjectID: project.ID,
		Status:    status.Status,
		Queued:    queued,
		CacheHits: hits,
	}, nil
}

// Reconcile revisits every project with work in flight and recovers jobs
// the queue no longer knows about. Pending segments are left for the next
// Render. It returns the number of projects visited.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	projectIDs, err := o.store.ActiveProjects(ctx)
	if err != nil {
		return 0, unavailable(err)
	}
	visited := 0
	for _, id := range projectIDs {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		if err := o.reconcileProject(ctx, id); err != nil {
			log.Printf("[Orchestrator] reconcile of project %s failed: %v", id, err)
			continue
		}
		visited++
	}
	return visited, nil
}

func (o *Orchestrator) reconcileProject(ctx context.Context, projectID string) error {
	_, segments, err := o.store.Load(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	render, err := o.store.LatestRender(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	for i := range segments {
		if segments[i].Status != model.SegmentQueued && segments[i].Status != model.SegmentGenerating {
			continue
		}
		err := o.retryOnConflict(ctx, segments[i], func(seg *model.Segment) error {
			if seg.Status != model.SegmentQueued && seg.Status != model.SegmentGenerating {
				return nil
			}
			return o.reconcile(ctx, render, seg)
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return o.checkComposition(ctx, projectID)
}

// evaluate runs one pass over the segments of the render's project.
func (o *Orchestrator) evaluate(ctx context.Context, render *model.Render, segments []model.Segment) (queued, hits int, err error) {
	for i := range segments {
		var outcome dispatchOutcome
		err := o.retryOnConflict(ctx, segments[i], func(seg *model.Segment) error {
			var err error
			outcome, err = o.evaluateSegment(ctx, render, seg)
			return err
		})
		switch outcome {
		case dispatchQueued:
			queued++
		case dispatchCached:
			hits++
		}

		if errors.Is(err, store.ErrConflict) {
			log.Printf("[Orchestrator] segment %s kept changing during evaluation, skipping", segments[i].ID)
			continue
		}
		if err != nil {
			log.Printf("[Orchestrator] evaluation of project %s stopped at segment %s: %v", render.ProjectID, segments[i].ID, err)
			return queued, hits, unavailable(err)
		}
	}

	if err := o.checkComposition(ctx, render.ProjectID); err != nil {
		return queued, hits, err
	}
	return queued, hits, nil
}

// evaluateSegment advances one segment as far as the orchestrator can
// without a worker. Writes are conditional on seg being unchanged.
func (o *Orchestrator) evaluateSegment(ctx context.Context, render *model.Render, seg *model.Segment) (dispatchOutcome, error) {
	if seg.Status == model.SegmentFailed && seg.Error != nil && seg.Error.Cancelled {
		reset, err := o.store.UpdateSegment(ctx, seg.ID, store.Unchanged(seg), clearGeneration)
		if err != nil {
			return dispatchNone, err
		}
		*seg = *reset
	}

	switch seg.Status {
	case model.SegmentPending:
		return o.dispatch(ctx, render, seg)
	case model.SegmentQueued, model.SegmentGenerating:
		return dispatchNone, o.reconcile(ctx, render, seg)
	}
	return dispatchNone, nil
}

const maxConflictRetries = 3

// retryOnConflict runs step against seg, re-reading the segment each time a
// concurrent writer won the compare-and-swap. A removed segment ends the
// loop quietly.
func (o *Orchestrator) retryOnConflict(ctx context.Context, seg model.Segment, step func(*model.Segment) error) error {
	for i := 0; ; i++ {
		err := step(&seg)
		if !errors.Is(err, store.ErrConflict) || i == maxConflictRetries-1 {
			return err
		}
		fresh, gerr := o.store.GetSegment(ctx, seg.ID)
		if errors.Is(gerr, store.ErrNotFound) {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		seg = *fresh
	}
}

type dispatchOutcome int

const (
	dispatchNone dispatchOutcome = iota
	dispatchQueued
	dispatchCached
	dispatchFailed
)

// dispatch resolves a pending segment either from the cache or by queueing
// a generation job.
func (o *Orchestrator) dispatch(ctx context.Context, render *model.Render, seg *model.Segment) (dispatchOutcome, error) {
	fp, err := o.fingerprintOf(ctx, seg.Directive)
	if err != nil {
		if client.IsPermanent(err) {
			return dispatchFailed, o.failSegment(ctx, seg, store.Unchanged(seg), JobFailure{
				Message:   err.Error(),
				Code:      client.ErrorCode(err),
				Permanent: true,
			})
		}
		return dispatchNone, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ref, found, err := o.cache.Get(ctx, fp)
	if err != nil {
		return dispatchNone, unavailable(err)
	}
	if found {
		updated, err := o.store.UpdateSegment(ctx, seg.ID, store.Unchanged(seg), func(s *model.Segment) {
			s.Status = model.SegmentCompleted
			s.ArtifactRef = ref
			s.Fingerprint = fp
			s.JobID = ""
			s.Error = nil
		})
		if err != nil {
			return dispatchNone, err
		}
		log.Printf("[Orchestrator] segment %s served from cache (%s)", seg.ID, fp[:12])
		o.notifySegment(updated)
		return dispatchCached, nil
	}

	jobID := uuid.New().String()
	attempt := seg.Attempts + 1
	updated, err := o.store.UpdateSegment(ctx, seg.ID, store.Unchanged(seg), func(s *model.Segment) {
		s.Status = model.SegmentQueued
		s.JobID = jobID
		s.Attempts = attempt
		s.Error = nil
	})
	if err != nil {
		return dispatchNone, err
	}
	o.notifySegment(updated)

	payload := model.SegmentJobPayload{
		ProjectID:   seg.ProjectID,
		SegmentID:   seg.ID,
		RenderID:    render.ID,
		Fingerprint: fp,
		Directive:   seg.Directive,
		Attempt:     attempt,
	}
	// A failed enqueue leaves the segment queued; reconcile re-enqueues it.
	if err := o.enqueueSegment(ctx, jobID, render.Priority(), payload, time.Time{}); err != nil {
		return dispatchNone, err
	}
	return dispatchQueued, nil
}

// reconcile repairs a queued or generating segment whose job was lost or
// finished without reaching the orchestrator.
func (o *Orchestrator) reconcile(ctx context.Context, render *model.Render, seg *model.Segment) error {
	if seg.JobID == "" {
		return nil
	}
	job, err := o.queue.Get(ctx, seg.JobID)
	if errors.Is(err, queue.ErrNotFound) {
		fp, ferr := o.fingerprintOf(ctx, seg.Directive)
		if client.IsPermanent(ferr) {
			return o.failSegment(ctx, seg, store.Unchanged(seg), JobFailure{
				Message:   ferr.Error(),
				Code:      client.ErrorCode(ferr),
				Permanent: true,
			})
		}
		if ferr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, ferr)
		}
		log.Printf("[Orchestrator] re-enqueueing lost job %s for segment %s", seg.JobID, seg.ID)
		return o.enqueueSegment(ctx, seg.JobID, render.Priority(), model.SegmentJobPayload{
			ProjectID:   seg.ProjectID,
			SegmentID:   seg.ID,
			RenderID:    render.ID,
			Fingerprint: fp,
			Directive:   seg.Directive,
			Attempt:     seg.Attempts,
		}, time.Time{})
	}
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusFailed && !job.Cancelled {
		var payload model.SegmentJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
		}
		return o.HandleJobFailed(ctx, &payload, job.ID, JobFailure{Message: job.LastError, Code: "JOB_FAILED"})
	}
	return nil
}

func (o *Orchestrator) fingerprintOf(ctx context.Context, d model.Directive) (string, error) {
	gen, err := o.registry.Get(d.Backend)
	if err != nil {
		return "", err
	}
	var input []byte
	if d.Input != "" {
		if o.content == nil {
			return "", client.Permanent("BAD_REFERENCE", "input references are not supported", nil)
		}
		if input, err = o.content.Fetch(ctx, d.Input); err != nil {
			return "", err
		}
	}
	return fingerprint.Compute(d, input, gen.Version())
}

func (o *Orchestrator) enqueueSegment(ctx context.Context, jobID string, priority model.Priority, payload model.SegmentJobPayload, notBefore time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = o.queue.Enqueue(ctx, &model.RenderJob{
		ID:        jobID,
		Kind:      model.JobKindSegment,
		Priority:  priority,
		Payload:   data,
		NotBefore: notBefore,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// MarkGenerating records that a worker picked up jobID. Redelivery of the
// same job to another worker is accepted.
func (o *Orchestrator) MarkGenerating(ctx context.Context, payload *model.SegmentJobPayload, jobID string) (*model.Segment, error) {
	expect := store.ExpectStatus(model.SegmentQueued, model.SegmentGenerating).WithJob(jobID)
	seg, err := o.store.UpdateSegment(ctx, payload.SegmentID, expect, func(s *model.Segment) {
		s.Status = model.SegmentGenerating
	})
	if err != nil {
		return nil, unavailable(err)
	}
	o.notifySegment(seg)
	return seg, nil
}

// IsCurrent reports whether the segment still waits on jobID.
func (o *Orchestrator) IsCurrent(ctx context.Context, payload *model.SegmentJobPayload, jobID string) bool {
	seg, err := o.store.GetSegment(ctx, payload.SegmentID)
	if err != nil {
		return false
	}
	return seg.JobID == jobID && !seg.Status.Terminal()
}

// CachedArtifact returns the artifact for a fingerprint if one was already
// produced, so a redelivered job can skip the backend.
func (o *Orchestrator) CachedArtifact(ctx context.Context, fp string) (string, bool) {
	ref, found, err := o.cache.Get(ctx, fp)
	if err != nil {
		return "", false
	}
	return ref, found
}

// HandleJobSucceeded stores the artifact in the cache and completes the
// segment if it still waits on jobID.
func (o *Orchestrator) HandleJobSucceeded(ctx context.Context, payload *model.SegmentJobPayload, jobID, artifactRef string) error {
	stored, err := o.cache.Put(ctx, payload.Fingerprint, artifactRef)
	if err != nil {
		return unavailable(err)
	}

	expect := store.ExpectStatus(model.SegmentQueued, model.SegmentGenerating).WithJob(jobID)
	seg, err := o.store.UpdateSegment(ctx, payload.SegmentID, expect, func(s *model.Segment) {
		s.Status = model.SegmentCompleted
		s.ArtifactRef = stored
		s.Fingerprint = payload.Fingerprint
		s.Error = nil
	})
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		log.Printf("[Orchestrator] discarding stale result of job %s for segment %s", jobID, payload.SegmentID)
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	log.Printf("[Orchestrator] segment %s completed by job %s", seg.ID, jobID)
	o.notifySegment(seg)
	return o.checkComposition(ctx, seg.ProjectID)
}

// HandleJobFailed retries the segment with backoff or fails it for good.
func (o *Orchestrator) HandleJobFailed(ctx context.Context, payload *model.SegmentJobPayload, jobID string, failure JobFailure) error {
	seg, err := o.store.GetSegment(ctx, payload.SegmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	if seg.JobID != jobID || seg.Status.Terminal() || seg.Status == model.SegmentPending {
		log.Printf("[Orchestrator] ignoring failure of superseded job %s for segment %s", jobID, seg.ID)
		return nil
	}

	expect := store.ExpectStatus(model.SegmentQueued, model.SegmentGenerating).WithJob(jobID)

	if failure.Permanent || o.retry.Exhausted(seg.Attempts) {
		err := o.failSegment(ctx, seg, expect, failure)
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return unavailable(err)
	}

	next := seg.Attempts + 1
	delay := o.retry.Backoff(seg.Attempts)
	newJobID := uuid.New().String()
	updated, err := o.store.UpdateSegment(ctx, seg.ID, expect, func(s *model.Segment) {
		s.Status = model.SegmentQueued
		s.JobID = newJobID
		s.Attempts = next
		s.Error = &model.ErrorRecord{
			Message:  failure.Message,
			Code:     failure.Code,
			Attempts: seg.Attempts,
			At:       o.now(),
		}
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	log.Printf("[Orchestrator] segment %s attempt %d failed (%s), retrying in %s", seg.ID, seg.Attempts, failure.Message, delay)
	o.notifySegment(updated)

	retryPayload := *payload
	retryPayload.Attempt = next
	return o.enqueueSegment(ctx, newJobID, o.priorityFor(ctx, seg.ProjectID), retryPayload, o.now().Add(delay))
}

// HandleDeadLetter is called for jobs the queue gave up on without a worker
// reporting an outcome.
func (o *Orchestrator) HandleDeadLetter(ctx context.Context, job *model.RenderJob) error {
	switch job.Kind {
	case model.JobKindSegment:
		var payload model.SegmentJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
		}
		return o.HandleJobFailed(ctx, &payload, job.ID, JobFailure{
			Message: fmt.Sprintf("job abandoned after %d deliveries: %s", job.Attempts, job.LastError),
			Code:    "DEAD_LETTER",
		})
	case model.JobKindComposition:
		var payload model.CompositionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode payload of job %s: %w", job.ID, err)
		}
		return o.HandleCompositionResult(ctx, payload.RenderID, false, "", "composition job abandoned: "+job.LastError)
	}
	return nil
}

func (o *Orchestrator) failSegment(ctx context.Context, seg *model.Segment, expect store.Expect, failure JobFailure) error {
	updated, err := o.store.UpdateSegment(ctx, seg.ID, expect, func(s *model.Segment) {
		s.Status = model.SegmentFailed
		s.Error = &model.ErrorRecord{
			Message:   failure.Message,
			Code:      failure.Code,
			Permanent: failure.Permanent,
			Attempts:  s.Attempts,
			At:        o.now(),
		}
	})
	if err != nil {
		return err
	}

	log.Printf("[Orchestrator] segment %s failed after %d attempt(s): %s", seg.ID, updated.Attempts, failure.Message)
	o.notifySegment(updated)

	render, err := o.store.LatestRender(ctx, seg.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = o.store.UpdateRender(ctx, render.ID, func(r *model.Render) error {
		r.PartiallyFailed = true
		return nil
	})
	return err
}

func (o *Orchestrator) priorityFor(ctx context.Context, projectID string) model.Priority {
	render, err := o.store.LatestRender(ctx, projectID)
	if err != nil {
		return model.PriorityNormal
	}
	return render.Priority()
}

// Cancel stops the current render: non-terminal segments fail as
// cancelled and their jobs are flagged. Completed segments are kept.
func (o *Orchestrator) Cancel(ctx context.Context, projectID string) (*model.StatusResponse, error) {
	_, segments, err := o.store.Load(ctx, projectID)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}

	render, err := o.store.LatestRender(ctx, projectID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, unavailable(err)
	default:
		var compositionJob string
		_, err := o.store.UpdateRender(ctx, render.ID, func(r *model.Render) error {
			r.Cancelled = true
			if r.CompositionStatus == model.CompositionQueued {
				compositionJob = r.CompositionJobID
				r.CompositionStatus = model.CompositionFailed
				r.CompositionError = "cancelled"
			}
			return nil
		})
		if err != nil {
			return nil, unavailable(err)
		}
		if compositionJob != "" {
			o.cancelJob(ctx, compositionJob)
		}
	}

	cancelled := 0
	for i := range segments {
		var updated *model.Segment
		var jobID string
		err := o.retryOnConflict(ctx, segments[i], func(seg *model.Segment) error {
			updated = nil
			if seg.Status.Terminal() {
				return nil
			}
			jobID = seg.JobID
			u, err := o.store.UpdateSegment(ctx, seg.ID, store.Unchanged(seg), func(s *model.Segment) {
				s.Status = model.SegmentFailed
				s.Error = &model.ErrorRecord{
					Message:   "cancelled",
					Code:      "CANCELLED",
					Cancelled: true,
					Attempts:  s.Attempts,
					At:        o.now(),
				}
			})
			updated = u
			return err
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, unavailable(err)
		}
		if updated == nil {
			continue
		}
		if jobID != "" {
			o.cancelJob(ctx, jobID)
		}
		o.notifySegment(updated)
		cancelled++
	}

	log.Printf("[Orchestrator] cancelled %d segment(s) of project %s", cancelled, projectID)
	return o.Status(ctx, projectID)
}

func (o *Orchestrator) cancelJob(ctx context.Context, jobID string) {
	if err := o.queue.Cancel(ctx, jobID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		log.Printf("[Orchestrator] failed to cancel job %s: %v", jobID, err)
	}
}

// RetrySegment resets a failed segment and starts a new render attempt.
func (o *Orchestrator) RetrySegment(ctx context.Context, segmentID string) (*model.RenderResponse, error) {
	seg, err := o.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, notFound(err, ErrSegmentNotFound)
	}
	if seg.Status != model.SegmentFailed {
		return nil, ErrNotRetryable
	}

	_, err = o.store.UpdateSegment(ctx, segmentID, store.ExpectStatus(model.SegmentFailed), clearGeneration)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrNotRetryable
	}
	if err != nil {
		return nil, unavailable(err)
	}

	interactive := false
	if render, err := o.store.LatestRender(ctx, seg.ProjectID); err == nil {
		interactive = render.Interactive
	}
	return o.Render(ctx, seg.ProjectID, interactive)
}

// Status reports per-segment and overall progress of the project.
func (o *Orchestrator) Status(ctx context.Context, projectID string) (*model.StatusResponse, error) {
	_, segments, err := o.store.Load(ctx, projectID)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}

	resp := &model.StatusResponse{
		ProjectID:     projectID,
		Status:        overallStatus(segments),
		SegmentsTotal: len(segments),
		Segments:      make([]model.SegmentStatusView, 0, len(segments)),
	}
	for _, seg := range segments {
		if seg.Status == model.SegmentCompleted {
			resp.SegmentsCompleted++
		}
		resp.Segments = append(resp.Segments, model.SegmentStatusView{
			SegmentID:   seg.ID,
			OrderIndex:  seg.OrderIndex,
			Status:      seg.Status,
			ArtifactRef: seg.ArtifactRef,
			Attempts:    seg.Attempts,
			Error:       seg.Error,
		})
	}

	render, err := o.store.LatestRender(ctx, projectID)
	if err == nil {
		resp.RenderID = render.ID
		resp.Composition = render.CompositionStatus
		resp.FinalArtifactRef = render.FinalArtifactRef
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable(err)
	}
	return resp, nil
}

func overallStatus(segments []model.Segment) model.RenderStatus {
	if len(segments) == 0 {
		return model.RenderNotStarted
	}
	completed, inFlight := 0, 0
	for _, seg := range segments {
		switch seg.Status {
		case model.SegmentFailed:
			return model.RenderPartiallyFailed
		case model.SegmentCompleted:
			completed++
		case model.SegmentQueued, model.SegmentGenerating:
			inFlight++
		}
	}
	switch {
	case completed == len(segments):
		return model.RenderCompleted
	case inFlight > 0, completed > 0:
		// Some work is done; the rest is in flight or awaiting a render.
		return model.RenderInProgress
	}
	return model.RenderNotStarted
}

// resetToPending returns a mutation that installs d and clears all
// generation state.
func resetToPending(d model.Directive) func(*model.Segment) {
	return func(s *model.Segment) {
		s.Directive = d
		clearGeneration(s)
	}
}

// clearGeneration puts a segment back to pending, keeping its directive.
func clearGeneration(s *model.Segment) {
	s.Status = model.SegmentPending
	s.JobID = ""
	s.ArtifactRef = ""
	s.Fingerprint = ""
	s.Attempts = 0
	s.Error = nil
}

func (o *Orchestrator) notifySegment(seg *model.Segment) {
	if o.notifier == nil || seg == nil {
		return
	}
	data := model.WSSegmentData{SegmentID: seg.ID, Status: seg.Status, ArtifactRef: seg.ArtifactRef}
	if seg.Error != nil {
		data.Error = seg.Error.Message
	}
	o.notifier.Notify(seg.ProjectID, model.WSTypeSegment, data)
}
