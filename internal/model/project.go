package model

import "time"

// OutputConfig describes the final video the composition step produces.
type OutputConfig struct {
	Resolution string `json:"resolution" validate:"omitempty,oneof=480p 720p 1080p 4k"`
	FrameRate  int    `json:"frameRate" validate:"omitempty,min=1,max=120"`
	Encoding   string `json:"encoding" validate:"omitempty,oneof=h264 h265 vp9 av1"`
}

// WithDefaults fills unset fields.
func (o OutputConfig) WithDefaults() OutputConfig {
	if o.Resolution == "" {
		o.Resolution = "1080p"
	}
	if o.FrameRate == 0 {
		o.FrameRate = 24
	}
	if o.Encoding == "" {
		o.Encoding = "h264"
	}
	return o
}

// Project is an ordered collection of segments plus output settings.
type Project struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Output     OutputConfig `json:"output"`
	SegmentIDs []string     `json:"segmentIds"`
	RenderID   string       `json:"renderId,omitempty"` // current render attempt
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Directive is the generation request for one segment. Only Backend and
// Input are interpreted by the engine; everything else is passed through.
type Directive struct {
	Backend string                 `json:"backend" validate:"required,max=64"`
	Prompt  string                 `json:"prompt" validate:"max=4000"`
	Input   string                 `json:"input,omitempty" validate:"max=2048"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Clone returns a copy that does not share the params map.
func (d Directive) Clone() Directive {
	if d.Params != nil {
		params := make(map[string]interface{}, len(d.Params))
		for k, v := range d.Params {
			params[k] = v
		}
		d.Params = params
	}
	return d
}

// ErrorRecord is attached to a segment whose last attempt failed.
type ErrorRecord struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Permanent bool      `json:"permanent"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Segment is one independently generated unit of a project.
type Segment struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	OrderIndex  int           `json:"orderIndex"`
	Directive   Directive     `json:"directive"`
	Status      SegmentStatus `json:"status"`
	JobID       string        `json:"jobId,omitempty"`
	ArtifactRef string        `json:"artifactRef,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Attempts    int           `json:"attempts"`
	Error       *ErrorRecord  `json:"error,omitempty"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy.
func (s Segment) Clone() Segment {
	s.Directive = s.Directive.Clone()
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

// Consistent reports whether the status-dependent fields are present.
func (s *Segment) Consistent() bool {
	switch s.Status {
	case SegmentCompleted:
		return s.ArtifactRef != "" && s.Fingerprint != ""
	case SegmentFailed:
		return s.Error != nil
	}
	return true
}

// CacheEntry maps a fingerprint to a generated artifact.
type CacheEntry struct {
	Fingerprint string     `json:"fingerprint"`
	ArtifactRef string     `json:"artifactRef"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}
