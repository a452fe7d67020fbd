// Package store persists projects, segments and render attempts. Every
// segment write is conditional on the caller's view of the segment, so
// concurrent orchestrators and late worker results cannot overwrite each
// other.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflicting update")
	ErrInvalidSegment = errors.New("segment state is inconsistent")
	ErrInvalidOrder   = errors.New("order must list every segment of the project exactly once")
	ErrUnavailable    = errors.New("store unavailable")
)

// Expect guards a conditional segment write.
type Expect struct {
	Status  []model.SegmentStatus // accepted prior statuses; empty accepts any
	JobID   string                // when set, the segment must still reference this job
	Version int64                 // when set, the segment must not have changed since it was read
}

// ExpectStatus accepts any of the given prior statuses.
func ExpectStatus(statuses ...model.SegmentStatus) Expect {
	return Expect{Status: statuses}
}

// WithJob additionally requires the segment to reference jobID.
func (e Expect) WithJob(jobID string) Expect {
	e.JobID = jobID
	return e
}

// WithVersion additionally requires the segment to still be at version v.
func (e Expect) WithVersion(v int64) Expect {
	e.Version = v
	return e
}

// Unchanged expects the segment exactly as seg was read.
func Unchanged(seg *model.Segment) Expect {
	return ExpectStatus(seg.Status).WithJob(seg.JobID).WithVersion(seg.Version)
}

func (e Expect) check(seg *model.Segment) error {
	if e.Version != 0 && seg.Version != e.Version {
		return fmt.Errorf("%w: segment %s is at version %d, expected %d", ErrConflict, seg.ID, seg.Version, e.Version)
	}
	if e.JobID != "" && seg.JobID != e.JobID {
		return fmt.Errorf("%w: segment %s references job %q, expected %q", ErrConflict, seg.ID, seg.JobID, e.JobID)
	}
	if len(e.Status) == 0 {
		return nil
	}
	for _, st := range e.Status {
		if seg.Status == st {
			return nil
		}
	}
	return fmt.Errorf("%w: segment %s is %s", ErrConflict, seg.ID, seg.Status)
}

// Store is implemented by MemoryStore and GormStore.
type Store interface {
	CreateProject(ctx context.Context, project *model.Project, segments []model.Segment) error
	// Load returns the project and its segments in order.
	Load(ctx context.Context, projectID string) (*model.Project, []model.Segment, error)
	DeleteProject(ctx context.Context, projectID string) error

	GetSegment(ctx context.Context, segmentID string) (*model.Segment, error)
	// AddSegment inserts at position, appending when position is out of range.
	AddSegment(ctx context.Context, projectID string, segment *model.Segment, position int) error
	RemoveSegment(ctx context.Context, segmentID string) error
	ReorderSegments(ctx context.Context, projectID string, orderedIDs []string) error
	// UpdateSegment applies fn to the segment if expect holds, atomically.
	UpdateSegment(ctx context.Context, segmentID string, expect Expect, fn func(*model.Segment)) (*model.Segment, error)

	// CreateRender stores a render attempt and makes it the project's current one.
	CreateRender(ctx context.Context, render *model.Render) error
	GetRender(ctx context.Context, renderID string) (*model.Render, error)
	LatestRender(ctx context.Context, projectID string) (*model.Render, error)
	// UpdateRender applies fn atomically; an error from fn aborts the write.
	UpdateRender(ctx context.Context, renderID string, fn func(*model.Render) error) (*model.Render, error)

	// ActiveProjects lists, sorted, the projects with a segment queued or
	// generating, or whose current render has a queued composition.
	ActiveProjects(ctx context.Context) ([]string, error)
}

func validPermutation(current, ordered []string) bool {
	if len(current) != len(ordered) {
		return false
	}
	seen := make(map[string]bool, len(current))
	for _, id := range current {
		seen[id] = true
	}
	for _, id := range ordered {
		if !seen[id] {
			return false
		}
		delete(seen, id)
	}
	return len(seen) == 0
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
