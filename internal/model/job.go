package model

import (
	"encoding/json"
	"time"
)

// RenderJob is a unit of work on the job queue.
type RenderJob struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Priority    Priority        `json:"priority"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"` // deliveries
	Nacks       int             `json:"nacks"`
	LastError   string          `json:"lastError,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	DeadLetter  bool            `json:"deadLetter,omitempty"`
	Result      *JobResult      `json:"result,omitempty"`
	NotBefore   time.Time       `json:"notBefore,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// JobResult is recorded on acknowledgement.
type JobResult struct {
	ArtifactRef string `json:"artifactRef,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SegmentJobPayload contains the data for a segment-generation job
type SegmentJobPayload struct {
	ProjectID   string    `json:"projectId"`
	SegmentID   string    `json:"segmentId"`
	RenderID    string    `json:"renderId"`
	Fingerprint string    `json:"fingerprint"`
	Directive   Directive `json:"directive"`
	Attempt     int       `json:"attempt"`
}

// ComposedSegment is one entry of the composition manifest.
type ComposedSegment struct {
	SegmentID   string `json:"segmentId"`
	OrderIndex  int    `json:"orderIndex"`
	ArtifactRef string `json:"artifactRef"`
}

// CompositionPayload contains the data for a composition job
type CompositionPayload struct {
	RenderID  string            `json:"renderId"`
	ProjectID string            `json:"projectId"`
	Output    OutputConfig      `json:"output"`
	Segments  []ComposedSegment `json:"segments"`
}

// Render is one render attempt of a project.
type Render struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"projectId"`
	Interactive       bool              `json:"interactive"`
	PartiallyFailed   bool              `json:"partiallyFailed"`
	Cancelled         bool              `json:"cancelled"`
	CompositionJobID  string            `json:"compositionJobId,omitempty"`
	CompositionStatus CompositionStatus `json:"compositionStatus,omitempty"`
	FinalArtifactRef  string            `json:"finalArtifactRef,omitempty"`
	CompositionError  string            `json:"compositionError,omitempty"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Priority returns the queue tier for jobs spawned by this render.
func (r *Render) Priority() Priority {
	if r.Interactive {
		return PriorityHigh
	}
	return PriorityNormal
}
