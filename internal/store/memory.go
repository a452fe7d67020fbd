package store

import (
	"context"
	"sync"
	"time"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	segments map[string]*model.Segment
	renders  map[string]*model.Render
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*model.Project),
		segments: make(map[string]*model.Segment),
		renders:  make(map[string]*model.Render),
	}
}

func (s *MemoryStore) CreateProject(ctx context.Context, project *model.Project, segments []model.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p := *project
	p.SegmentIDs = make([]string, 0, len(segments))
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range segments {
		seg := segments[i].Clone()
		seg.ProjectID = p.ID
		seg.OrderIndex = i
		seg.Version = 1
		seg.CreatedAt, seg.UpdatedAt = now, now
		if !seg.Consistent() {
			return ErrInvalidSegment
		}
		s.segments[seg.ID] = &seg
		p.SegmentIDs = append(p.SegmentIDs, seg.ID)
	}
	s.projects[p.ID] = &p
	*project = p
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, projectID string) (*model.Project, []model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	out := *p
	out.SegmentIDs = append([]string(nil), p.SegmentIDs...)
	segments := make([]model.Segment, 0, len(p.SegmentIDs))
	for _, id := range p.SegmentIDs {
		segments = append(segments, s.segments[id].Clone())
	}
	return &out, segments, nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range p.SegmentIDs {
		delete(s.segments, id)
	}
	for id, r := range s.renders {
		if r.ProjectID == projectID {
			delete(s.renders, id)
		}
	}
	delete(s.projects, projectID)
	return nil
}

func (s *MemoryStore) GetSegment(ctx context.Context, segmentID string) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := seg.Clone()
	return &out, nil
}

func (s *MemoryStore) AddSegment(ctx context.Context, projectID string, segment *model.Segment, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if position < 0 || position > len(p.SegmentIDs) {
		position = len(p.SegmentIDs)
	}

	now := time.Now()
	seg := segment.Clone()
	seg.ProjectID = projectID
	seg.Version = 1
	seg.CreatedAt, seg.UpdatedAt = now, now
	if !seg.Consistent() {
		return ErrInvalidSegment
	}
	s.segments[seg.ID] = &seg

	ids := append([]string(nil), p.SegmentIDs[:position]...)
	ids = append(ids, seg.ID)
	ids = append(ids, p.SegmentIDs[position:]...)
	s.setOrderLocked(p, ids, now)
	*segment = s.segments[seg.ID].Clone()
	return nil
}

func (s *MemoryStore) RemoveSegment(ctx context.Context, segmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentID]
	if !ok {
		return ErrNotFound
	}
	p := s.projects[seg.ProjectID]
	ids := make([]string, 0, len(p.SegmentIDs))
	for _, id := range p.SegmentIDs {
		if id != segmentID {
			ids = append(ids, id)
		}
	}
	delete(s.segments, segmentID)
	s.setOrderLocked(p, ids, time.Now())
	return nil
}

func (s *MemoryStore) ReorderSegments(ctx context.Context, projectID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if !validPermutation(p.SegmentIDs, orderedIDs) {
		return ErrInvalidOrder
	}
	s.setOrderLocked(p, append([]string(nil), orderedIDs...), time.Now())
	return nil
}

func (s *MemoryStore) setOrderLocked(p *model.Project, ids []string, now time.Time) {
	p.SegmentIDs = ids
	p.UpdatedAt = now
	for i, id := range ids {
		if seg := s.segments[id]; seg.OrderIndex != i {
			seg.OrderIndex = i
			seg.Version++
			seg.UpdatedAt = now
		}
	}
}

func (s *MemoryStore) UpdateSegment(ctx context.Context, segmentID string, expect Expect, fn func(*model.Segment)) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[segmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := expect.check(seg); err != nil {
		return nil, err
	}

	next := seg.Clone()
	fn(&next)
	next.ID, next.ProjectID, next.OrderIndex = seg.ID, seg.ProjectID, seg.OrderIndex
	if !next.Consistent() {
		return nil, ErrInvalidSegment
	}
	next.Version = seg.Version + 1
	next.UpdatedAt = time.Now()
	s.segments[segmentID] = &next

	out := next.Clone()
	return &out, nil
}

func (s *MemoryStore) CreateRender(ctx context.Context, render *model.Render) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[render.ProjectID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	r := *render
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	s.renders[r.ID] = &r
	p.RenderID = r.ID
	*render = r
	return nil
}

func (s *MemoryStore) GetRender(ctx context.Context, renderID string) (*model.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.renders[renderID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) LatestRender(ctx context.Context, projectID string) (*model.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok || p.RenderID == "" {
		return nil, ErrNotFound
	}
	out := *s.renders[p.RenderID]
	return &out, nil
}

func (s *MemoryStore) UpdateRender(ctx context.Context, renderID string, fn func(*model.Render) error) (*model.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.renders[renderID]
	if !ok {
		return nil, ErrNotFound
	}
	next := *r
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID, next.ProjectID = r.ID, r.ProjectID
	next.Version = r.Version + 1
	next.UpdatedAt = time.Now()
	s.renders[renderID] = &next

	out := next
	return &out, nil
}

func (s *MemoryStore) ActiveProjects(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool)
	for _, seg := range s.segments {
		if seg.Status == model.SegmentQueued || seg.Status == model.SegmentGenerating {
			active[seg.ProjectID] = true
		}
	}
	for id, p := range s.projects {
		if r, ok := s.renders[p.RenderID]; ok && r.CompositionStatus == model.CompositionQueued {
			active[id] = true
		}
	}
	return sortedKeys(active), nil
}
