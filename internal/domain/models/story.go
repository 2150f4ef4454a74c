package models

import (
	"time"

	"StoryRisk/internal/domain/risk"
)

// StoryRecord is the persisted estimation of one story.
// The embedded assessment is nil until a team estimate exists; when present its
// fields are flattened into the JSON document.
type StoryRecord struct {
	ID                string   `json:"id"`
	DisplayID         int64    `json:"displayId"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	RFPrediction      float64  `json:"rfPrediction"`
	StoryPoint        float64  `json:"storyPoint"`
	TeamEstimate      *float64 `json:"teamEstimate,omitempty"`
	Confidence        float64  `json:"confidence"`
	FullAdjustment    float64  `json:"fullAdjustment"`
	AppliedAdjustment float64  `json:"appliedAdjustment"`
	DQNInfluence      float64  `json:"dqnInfluence"`
	*risk.Assessment
	ProjectID string    `json:"projectId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NeedsBackfill reports whether the record has a team estimate but no risk data.
func (s *StoryRecord) NeedsBackfill() bool {
	return s.TeamEstimate != nil && IsFinite(*s.TeamEstimate) && s.Assessment == nil
}

// Clone returns a deep copy.
func (s *StoryRecord) Clone() *StoryRecord {
	if s == nil {
		return nil
	}
	c := *s
	if s.TeamEstimate != nil {
		v := *s.TeamEstimate
		c.TeamEstimate = &v
	}
	if s.Assessment != nil {
		a := *s.Assessment
		c.Assessment = &a
	}
	return &c
}

// StoryPatch lists the fields an update may change. Nil fields are left alone.
type StoryPatch struct {
	TeamEstimate *float64
	Assessment   *risk.Assessment
}

// Apply writes the patch onto s.
func (p StoryPatch) Apply(s *StoryRecord) {
	if p.TeamEstimate != nil {
		v := *p.TeamEstimate
		s.TeamEstimate = &v
	}
	if p.Assessment != nil {
		a := *p.Assessment
		s.Assessment = &a
	}
}

// Empty reports whether the patch changes nothing.
func (p StoryPatch) Empty() bool { return p.TeamEstimate == nil && p.Assessment == nil }

// StoryFilter narrows a Find call.
type StoryFilter struct {
	ProjectID string
}

// SaveStoryInput is a story whose prediction was computed by the caller.
// Numbers keep their Set/Valid state so malformed values can be rejected.
type SaveStoryInput struct {
	Title             string
	Description       string
	StoryPoint        OptionalNumber
	RFPrediction      OptionalNumber
	Confidence        OptionalNumber
	FullAdjustment    OptionalNumber
	AppliedAdjustment OptionalNumber
	DQNInfluence      float64
	TeamEstimate      OptionalNumber
	ProjectID         string
}

// EventType names a story lifecycle event.
type EventType string

const (
	EventStoryCreated EventType = "story.created"
	EventStoryUpdated EventType = "story.updated"
)

// StoryEvent is published after a record is written.
type StoryEvent struct {
	Type       EventType    `json:"type"`
	Story      *StoryRecord `json:"story"`
	OccurredAt time.Time    `json:"occurredAt"`
}
