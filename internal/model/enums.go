package model

// Segment status
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentQueued     SegmentStatus = "queued"
	SegmentGenerating SegmentStatus = "generating"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// Terminal reports whether no further transition happens without an edit or retry.
func (s SegmentStatus) Terminal() bool {
	return s == SegmentCompleted || s == SegmentFailed
}

// Job kinds
type JobKind string

const (
	JobKindSegment     JobKind = "segment-generation"
	JobKindComposition JobKind = "composition"
)

// Job priorities, highest first
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Overall render status of a project
type RenderStatus string

const (
	RenderNotStarted      RenderStatus = "not-started"
	RenderInProgress      RenderStatus = "in-progress"
	RenderCompleted       RenderStatus = "completed"
	RenderPartiallyFailed RenderStatus = "partially-failed"
)

// Composition status of a render attempt
type CompositionStatus string

const (
	CompositionNone       CompositionStatus = ""
	CompositionQueued     CompositionStatus = "queued"     // composition job enqueued
	CompositionDispatched CompositionStatus = "dispatched" // handed to the collaborator
	CompositionSucceeded  CompositionStatus = "succeeded"
	CompositionFailed     CompositionStatus = "failed"
)
