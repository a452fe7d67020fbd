package model

// WebSocket message types
const (
	WSTypeSegment     = "segment"
	WSTypeRender      = "render"
	WSTypeComposition = "composition"
	WSTypeError       = "error"
)

// WSMessage is the envelope for every message sent to project subscribers
type WSMessage struct {
	Type      string      `json:"type"`
	ProjectID string      `json:"projectId"`
	Data      interface{} `json:"data"`
}

// WSSegmentData reports a segment transition
type WSSegmentData struct {
	SegmentID   string        `json:"segmentId"`
	Status      SegmentStatus `json:"status"`
	ArtifactRef string        `json:"artifactRef,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// WSRenderData reports render progress
type WSRenderData struct {
	RenderID          string       `json:"renderId"`
	Status            RenderStatus `json:"status"`
	SegmentsTotal     int          `json:"segmentsTotal"`
	SegmentsCompleted int          `json:"segmentsCompleted"`
}

// WSCompositionData reports composition progress
type WSCompositionData struct {
	RenderID    string            `json:"renderId"`
	Status      CompositionStatus `json:"status"`
	ArtifactRef string            `json:"artifactRef,omitempty"`
	Error       string            `json:"error,omitempty"`
}
