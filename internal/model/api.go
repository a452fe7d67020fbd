package model

// CreateProjectRequest is the body of POST /api/projects
type CreateProjectRequest struct {
	Name     string                 `json:"name" validate:"required,min=1,max=200"`
	Output   OutputConfig           `json:"output"`
	Segments []CreateSegmentRequest `json:"segments" validate:"max=500,dive"`
}

// CreateSegmentRequest adds a segment; Position appends when nil.
type CreateSegmentRequest struct {
	Directive Directive `json:"directive" validate:"required"`
	Position  *int      `json:"position,omitempty" validate:"omitempty,min=0"`
}

// UpdateSegmentRequest replaces a segment's directive.
type UpdateSegmentRequest struct {
	Directive Directive `json:"directive" validate:"required"`
}

// ReorderRequest lists every segment id of the project in the new order.
type ReorderRequest struct {
	SegmentIDs []string `json:"segmentIds" validate:"required,min=1,dive,required"`
}

// RenderRequest starts a render attempt.
type RenderRequest struct {
	Interactive bool `json:"interactive"`
}

// CompositionResultRequest is sent by the composition collaborator.
type CompositionResultRequest struct {
	Success     bool   `json:"success"`
	ArtifactRef string `json:"artifactRef" validate:"required_if=Success true"`
	Error       string `json:"error"`
}

// ProjectResponse is a project with its ordered segments.
type ProjectResponse struct {
	Project  *Project  `json:"project"`
	Segments []Segment `json:"segments"`
}

// RenderResponse is returned when a render attempt is started.
type RenderResponse struct {
	RenderID  string       `json:"renderId"`
	ProjectID string       `json:"projectId"`
	Status    RenderStatus `json:"status"`
	Queued    int          `json:"queued"`
	CacheHits int          `json:"cacheHits"`
}

// SegmentStatusView is one row of a status query.
type SegmentStatusView struct {
	SegmentID   string        `json:"segmentId"`
	OrderIndex  int           `json:"orderIndex"`
	Status      SegmentStatus `json:"status"`
	ArtifactRef string        `json:"artifactRef,omitempty"`
	Attempts    int           `json:"attempts"`
	Error       *ErrorRecord  `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/projects/:projectId/status
type StatusResponse struct {
	ProjectID         string              `json:"projectId"`
	Status            RenderStatus        `json:"status"`
	RenderID          string              `json:"renderId,omitempty"`
	SegmentsTotal     int                 `json:"segmentsTotal"`
	SegmentsCompleted int                 `json:"segmentsCompleted"`
	Segments          []SegmentStatusView `json:"segments"`
	Composition       CompositionStatus   `json:"composition,omitempty"`
	FinalArtifactRef  string              `json:"finalArtifactRef,omitempty"`
}
