package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/client"
	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
	"github.com/QFiSouthaven/Jynco-sub001/internal/store"
)

const maxEditRetries = 5

// ProjectService manages projects and their segment lists.
type ProjectService struct {
	store        store.Store
	registry     *client.Registry
	orchestrator *Orchestrator
}

func NewProjectService(st store.Store, registry *client.Registry, orchestrator *Orchestrator) *ProjectService {
	return &ProjectService{
		store:        st,
		registry:     registry,
		orchestrator: orchestrator,
	}
}

func (s *ProjectService) checkBackend(d model.Directive) error {
	if _, err := s.registry.Get(d.Backend); err != nil {
		return ErrUnknownBackend
	}
	return nil
}

// CreateProject stores a new project with its initial segments, all pending.
func (s *ProjectService) CreateProject(ctx context.Context, req *model.CreateProjectRequest) (*model.ProjectResponse, error) {
	for _, sr := range req.Segments {
		if err := s.checkBackend(sr.Directive); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	project := &model.Project{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Output:    req.Output.WithDefaults(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	segments := make([]model.Segment, 0, len(req.Segments))
	for i, sr := range req.Segments {
		segments = append(segments, model.Segment{
			ID:         uuid.New().String(),
			ProjectID:  project.ID,
			OrderIndex: i,
			Directive:  sr.Directive.Clone(),
			Status:     model.SegmentPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := s.store.CreateProject(ctx, project, segments); err != nil {
		return nil, unavailable(err)
	}
	log.Printf("[Project] created %s (%s) with %d segment(s)", project.ID, project.Name, len(segments))
	return s.GetProject(ctx, project.ID)
}

func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*model.ProjectResponse, error) {
	project, segments, err := s.store.Load(ctx, projectID)
	if err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return &model.ProjectResponse{Project: project, Segments: segments}, nil
}

// DeleteProject removes a project that has no generation or composition in flight.
func (s *ProjectService) DeleteProject(ctx context.Context, projectID string) error {
	_, segments, err := s.store.Load(ctx, projectID)
	if err != nil {
		return notFound(err, ErrProjectNotFound)
	}
	for _, seg := range segments {
		if seg.Status == model.SegmentQueued || seg.Status == model.SegmentGenerating {
			return ErrRenderInFlight
		}
	}
	render, err := s.store.LatestRender(ctx, projectID)
	if err == nil && render.CompositionStatus == model.CompositionQueued {
		return ErrRenderInFlight
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return unavailable(err)
	}

	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return notFound(err, ErrProjectNotFound)
	}
	log.Printf("[Project] deleted %s", projectID)
	return nil
}

// AddSegment inserts a pending segment. A nil position appends.
func (s *ProjectService) AddSegment(ctx context.Context, projectID string, req *model.CreateSegmentRequest) (*model.Segment, error) {
	if err := s.checkBackend(req.Directive); err != nil {
		return nil, err
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}

	now := time.Now()
	seg := &model.Segment{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Directive: req.Directive.Clone(),
		Status:    model.SegmentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.AddSegment(ctx, projectID, seg, position); err != nil {
		return nil, notFound(err, ErrProjectNotFound)
	}
	return s.getSegment(ctx, seg.ID)
}

// UpdateDirective replaces a segment's directive. The segment goes back to
// pending and any job it was waiting on is cancelled, so a late result of
// the old directive cannot complete it.
func (s *ProjectService) UpdateDirective(ctx context.Context, segmentID string, req *model.UpdateSegmentRequest) (*model.Segment, error) {
	if err := s.checkBackend(req.Directive); err != nil {
		return nil, err
	}

	for i := 0; i < maxEditRetries; i++ {
		current, err := s.store.GetSegment(ctx, segmentID)
		if err != nil {
			return nil, notFound(err, ErrSegmentNotFound)
		}

		updated, err := s.store.UpdateSegment(ctx, segmentID, store.Unchanged(current), resetToPending(req.Directive.Clone()))
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, notFound(err, ErrSegmentNotFound)
		}

		if current.JobID != "" && !current.Status.Terminal() {
			s.orchestrator.cancelJob(ctx, current.JobID)
		}
		s.orchestrator.notifySegment(updated)
		log.Printf("[Project] segment %s directive updated", segmentID)
		return updated, nil
	}
	return nil, ErrUnavailable
}

// RemoveSegment deletes a segment, cancelling its job if one is in flight.
func (s *ProjectService) RemoveSegment(ctx context.Context, segmentID string) error {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return notFound(err, ErrSegmentNotFound)
	}
	if err := s.store.RemoveSegment(ctx, segmentID); err != nil {
		return notFound(err, ErrSegmentNotFound)
	}
	if seg.JobID != "" && !seg.Status.Terminal() {
		s.orchestrator.cancelJob(ctx, seg.JobID)
	}
	log.Printf("[Project] segment %s removed from project %s", segmentID, seg.ProjectID)

	// The remaining segments may now all be completed.
	return s.orchestrator.checkComposition(ctx, seg.ProjectID)
}

// ReorderSegments applies a new order. Segment states are not affected.
func (s *ProjectService) ReorderSegments(ctx context.Context, projectID string, req *model.ReorderRequest) (*model.ProjectResponse, error) {
	if err := s.store.ReorderSegments(ctx, projectID, req.SegmentIDs); err != nil {
		if errors.Is(err, store.ErrInvalidOrder) {
			return nil, err
		}
		return nil, notFound(err, ErrProjectNotFound)
	}
	return s.GetProject(ctx, projectID)
}

func (s *ProjectService) getSegment(ctx context.Context, segmentID string) (*model.Segment, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, notFound(err, ErrSegmentNotFound)
	}
	return seg, nil
}
