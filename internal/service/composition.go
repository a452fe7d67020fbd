package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/queue"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
)

var errAlreadyClaimed = errors.New("composition already claimed")

// checkComposition enqueues the composition job once every segment of the
// project's current render is completed. The claim on the render record
// makes the trigger fire at most once per render even when several
// segment completions race here.
func (o *Orchestrator) checkComposition(ctx context.Context, projectID string) error {
	project, segments, err := o.store.Load(ctx, projectID)
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

	o.notifyRender(render, segments)

	if render.Cancelled || render.PartiallyFailed || len(segments) == 0 {
		return nil
	}
	for _, seg := range segments {
		if seg.Status != model.SegmentCompleted {
			return nil
		}
	}

	payload := compositionPayload(render, project, segments)

	if render.CompositionJobID != "" {
		if render.CompositionStatus == model.CompositionQueued {
			return o.recoverComposition(ctx, render, payload)
		}
		return nil
	}

	jobID := uuid.New().String()
	claimed, err := o.store.UpdateRender(ctx, render.ID, func(r *model.Render) error {
		if r.CompositionJobID != "" || r.Cancelled || r.PartiallyFailed {
			return errAlreadyClaimed
		}
		r.CompositionJobID = jobID
		r.CompositionStatus = model.CompositionQueued
		return nil
	})
	if errors.Is(err, errAlreadyClaimed) {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	if err := o.enqueueComposition(ctx, claimed, payload); err != nil {
		return err
	}
	log.Printf("[Orchestrator] composition job %s enqueued for render %s (%d segments)", jobID, render.ID, len(payload.Segments))
	o.notifyComposition(claimed)
	return nil
}

// recoverComposition re-enqueues a claimed composition job the queue lost.
func (o *Orchestrator) recoverComposition(ctx context.Context, render *model.Render, payload *model.CompositionPayload) error {
	_, err := o.queue.Get(ctx, render.CompositionJobID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, queue.ErrNotFound) {
		return unavailable(err)
	}
	log.Printf("[Orchestrator] re-enqueueing lost composition job %s", render.CompositionJobID)
	return o.enqueueComposition(ctx, render, payload)
}

func (o *Orchestrator) enqueueComposition(ctx context.Context, render *model.Render, payload *model.CompositionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal composition payload: %w", err)
	}
	_, err = o.queue.Enqueue(ctx, &model.RenderJob{
		ID:       render.CompositionJobID,
		Kind:     model.JobKindComposition,
		Priority: render.Priority(),
		Payload:  data,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return nil
	}
	return unavailable(err)
}

// compositionPayload snapshots the ordered artifact references.
func compositionPayload(render *model.Render, project *model.Project, segments []model.Segment) *model.CompositionPayload {
	payload := &model.CompositionPayload{
		RenderID:  render.ID,
		ProjectID: project.ID,
		Output:    project.Output.WithDefaults(),
		Segments:  make([]model.ComposedSegment, 0, len(segments)),
	}
	for _, seg := range segments {
		payload.Segments = append(payload.Segments, model.ComposedSegment{
			SegmentID:   seg.ID,
			OrderIndex:  seg.OrderIndex,
			ArtifactRef: seg.ArtifactRef,
		})
	}
	return payload
}

// MarkCompositionDispatched records that the composition job was handed to
// the composition collaborator.
func (o *Orchestrator) MarkCompositionDispatched(ctx context.Context, renderID string) error {
	render, err := o.store.UpdateRender(ctx, renderID, func(r *model.Render) error {
		if r.CompositionStatus == model.CompositionQueued {
			r.CompositionStatus = model.CompositionDispatched
		}
		return nil
	})
	if err != nil {
		return notFound(err, ErrRenderNotFound)
	}
	o.notifyComposition(render)
	return nil
}

// HandleCompositionResult records the outcome reported by the composition
// collaborator. Segment states are never touched.
func (o *Orchestrator) HandleCompositionResult(ctx context.Context, renderID string, success bool, artifactRef, message string) error {
	render, err := o.store.UpdateRender(ctx, renderID, func(r *model.Render) error {
		if r.CompositionStatus == model.CompositionSucceeded {
			return nil
		}
		if success {
			r.CompositionStatus = model.CompositionSucceeded
			r.FinalArtifactRef = artifactRef
			r.CompositionError = ""
			return nil
		}
		r.CompositionStatus = model.CompositionFailed
		if message == "" {
			message = "composition failed"
		}
		r.CompositionError = message
		return nil
	})
	if err != nil {
		return notFound(err, ErrRenderNotFound)
	}

	if success {
		log.Printf("[Orchestrator] render %s composed: %s", renderID, artifactRef)
	} else {
		log.Printf("[Orchestrator] composition of render %s failed: %s", renderID, render.CompositionError)
	}
	o.notifyComposition(render)
	return nil
}

func (o *Orchestrator) notifyRender(render *model.Render, segments []model.Segment) {
	if o.notifier == nil {
		return
	}
	completed := 0
	for _, seg := range segments {
		if seg.Status == model.SegmentCompleted {
			completed++
		}
	}
	o.notifier.Notify(render.ProjectID, model.WSTypeRender, model.WSRenderData{
		RenderID:          render.ID,
		Status:            overallStatus(segments),
		SegmentsTotal:     len(segments),
		SegmentsCompleted: completed,
	})
}

func (o *Orchestrator) notifyComposition(render *model.Render) {
	if o.notifier == nil || render == nil {
		return
	}
	o.notifier.Notify(render.ProjectID, model.WSTypeComposition, model.WSCompositionData{
		RenderID:    render.ID,
		Status:      render.CompositionStatus,
		ArtifactRef: render.FinalArtifactRef,
		Error:       render.CompositionError,
	})
}
