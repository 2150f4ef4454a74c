package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/pkg/cache"
)

type countingPredictor struct {
	single  int
	batches [][]models.EstimationInput
	fail    bool
}

func (c *countingPredictor) PredictOne(_ context.Context, in models.EstimationInput, _ float64) (models.PredictionResult, error) {
	c.single++
	if c.fail {
		return models.PredictionResult{}, &models.EstimationError{Kind: models.ErrPredictorUnavailable}
	}
	return models.PredictionResult{RFPrediction: 2, AdjustedPrediction: float64(len(in.Title))}, nil
}

func (c *countingPredictor) PredictBatch(_ context.Context, ins []models.EstimationInput, _ float64) ([]models.PredictionOutcome, error) {
	c.batches = append(c.batches, ins)
	out := make([]models.PredictionOutcome, len(ins))
	for i, in := range ins {
		if in.Title == "bad" {
			out[i] = models.PredictionOutcome{Err: predictorError("bad")}
			continue
		}
		out[i] = models.PredictionOutcome{Result: &models.PredictionResult{AdjustedPrediction: float64(len(in.Title))}}
	}
	return out, nil
}

func (c *countingPredictor) Validate(context.Context, string, float64) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (c *countingPredictor) FindOptimal(context.Context, string, []float64) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newCached(next *countingPredictor) *CachedPredictor {
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	return NewCachedPredictor(next, mc, time.Minute, nil)
}

func TestCachedPredictOne(t *testing.T) {
	next := &countingPredictor{}
	p := newCached(next)
	ctx := context.Background()
	in := models.EstimationInput{Title: "story", Description: "d"}

	first, err := p.PredictOne(ctx, in, 0.3)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := p.PredictOne(ctx, in, 0.3)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second || next.single != 1 {
		t.Fatalf("calls = %d, first %+v second %+v", next.single, first, second)
	}

	if _, err := p.PredictOne(ctx, in, 0.5); err != nil {
		t.Fatalf("other influence: %v", err)
	}
	if next.single != 2 {
		t.Fatalf("different influence should miss, calls = %d", next.single)
	}
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	next := &countingPredictor{fail: true}
	p := newCached(next)
	in := models.EstimationInput{Title: "story"}
	for i := 0; i < 2; i++ {
		if _, err := p.PredictOne(context.Background(), in, 0.3); !errors.Is(err, models.ErrPredictorUnavailable) {
			t.Fatalf("err = %v", err)
		}
	}
	if next.single != 2 {
		t.Fatalf("calls = %d, want 2", next.single)
	}
}

func TestCachedBatchOnlySendsMisses(t *testing.T) {
	next := &countingPredictor{}
	p := newCached(next)
	ctx := context.Background()

	if _, err := p.PredictOne(ctx, models.EstimationInput{Title: "aa"}, 0.3); err != nil {
		t.Fatalf("warm: %v", err)
	}
	ins := []models.EstimationInput{{Title: "aa"}, {Title: "bad"}, {Title: "cccc"}}
	out, err := p.PredictBatch(ctx, ins, 0.3)
	if err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if len(next.batches) != 1 || len(next.batches[0]) != 2 {
		t.Fatalf("downstream batches = %+v", next.batches)
	}
	if out[0].Result.AdjustedPrediction != 2 || out[1].Err == nil || out[2].Result.AdjustedPrediction != 4 {
		t.Fatalf("out = %+v", out)
	}

	// Second run: only the failed item goes downstream again.
	if _, err := p.PredictBatch(ctx, ins, 0.3); err != nil {
		t.Fatalf("PredictBatch: %v", err)
	}
	if len(next.batches) != 2 || len(next.batches[1]) != 1 || next.batches[1][0].Title != "bad" {
		t.Fatalf("downstream batches = %+v", next.batches)
	}
}
