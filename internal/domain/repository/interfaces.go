package repository

import (
	"context"

	"StoryRisk/internal/domain/models"
)

// UpdateOptions controls UpdateByID.
// ExpectedVersion > 0 turns the update into a compare-and-swap: it fails with
// models.ErrVersionConflict when the stored version differs.
type UpdateOptions struct {
	ExpectedVersion int64
}

// StoryStore persists story records.
type StoryStore interface {
	// Create assigns ID, DisplayID, timestamps and Version=1 to rec and stores it.
	Create(ctx context.Context, rec *models.StoryRecord) error
	// InsertMany stores all records in one call, assigning fields like Create.
	InsertMany(ctx context.Context, recs []*models.StoryRecord) error
	// Find returns matching records, newest first.
	Find(ctx context.Context, filter models.StoryFilter) ([]*models.StoryRecord, error)
	// FindByID returns nil, nil when no record has id.
	FindByID(ctx context.Context, id string) (*models.StoryRecord, error)
	// UpdateByID applies patch, bumps Version and returns the updated record,
	// or nil, nil when no record has id.
	UpdateByID(ctx context.Context, id string, patch models.StoryPatch, opts UpdateOptions) (*models.StoryRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher broadcasts story lifecycle events.
type EventPublisher interface {
	PublishStoryEvent(ctx context.Context, ev models.StoryEvent) error
	Close() error
}

type Metrics interface {
	RecordPrediction(mode, result string)
	RecordRisk(level string)
	RecordBackfill(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
