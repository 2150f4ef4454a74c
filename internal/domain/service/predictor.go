package service

import (
	"context"
	"encoding/json"

	"StoryRisk/internal/domain/models"
)

// Predictor produces story point predictions from an external model.
type Predictor interface {
	// PredictOne fails with ErrPredictorUnavailable, ErrPredictorError or
	// ErrPredictorEmptyResult.
	PredictOne(ctx context.Context, in models.EstimationInput, influence float64) (models.PredictionResult, error)
	// PredictBatch returns exactly len(ins) outcomes in input order. A bad item
	// only fails its own slot.
	PredictBatch(ctx context.Context, ins []models.EstimationInput, influence float64) ([]models.PredictionOutcome, error)
	// Validate and FindOptimal return the model payload unmodified.
	Validate(ctx context.Context, testDataPath string, influence float64) (json.RawMessage, error)
	FindOptimal(ctx context.Context, testDataPath string, influenceValues []float64) (json.RawMessage, error)
}
