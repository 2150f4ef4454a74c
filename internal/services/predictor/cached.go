package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/domain/service"
	"StoryRisk/pkg/cache"
	"StoryRisk/pkg/logger"
)

// CachedPredictor memoizes successful single-story predictions. Batch calls
// reuse cached items and only send the misses downstream. Cache failures are
// logged and fall through to the wrapped predictor.
type CachedPredictor struct {
	next  service.Predictor
	cache cache.Service
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedPredictor(next service.Predictor, c cache.Service, ttl time.Duration, log *logger.Logger) *CachedPredictor {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedPredictor{next: next, cache: c, ttl: ttl, log: log}
}

func predictionKey(in models.EstimationInput, influence float64) string {
	return cache.GenerateKey("prediction",
		cache.HashKey(strings.TrimSpace(in.Title), in.Description, formatInfluence(clampInfluence(influence))))
}

func (c *CachedPredictor) lookup(ctx context.Context, key string) (models.PredictionResult, bool) {
	var raw string
	if err := c.cache.Get(ctx, key, &raw); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.log.Warn("prediction cache read failed", logger.String("key", key), logger.Error(err))
		}
		return models.PredictionResult{}, false
	}
	var res models.PredictionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return models.PredictionResult{}, false
	}
	return res, true
}

func (c *CachedPredictor) store(ctx context.Context, key string, res models.PredictionResult) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, string(b), c.ttl); err != nil {
		c.log.Warn("prediction cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func (c *CachedPredictor) PredictOne(ctx context.Context, in models.EstimationInput, influence float64) (models.PredictionResult, error) {
	if err := checkInput(in); err != nil {
		return models.PredictionResult{}, err
	}
	key := predictionKey(in, influence)
	if res, ok := c.lookup(ctx, key); ok {
		return res, nil
	}
	res, err := c.next.PredictOne(ctx, in, influence)
	if err != nil {
		return models.PredictionResult{}, err
	}
	c.store(ctx, key, res)
	return res, nil
}

func (c *CachedPredictor) PredictBatch(ctx context.Context, ins []models.EstimationInput, influence float64) ([]models.PredictionOutcome, error) {
	if err := checkInputs(ins); err != nil {
		return nil, err
	}
	out := make([]models.PredictionOutcome, len(ins))
	keys := make([]string, len(ins))
	var missIdx []int
	var missing []models.EstimationInput
	for i, in := range ins {
		keys[i] = predictionKey(in, influence)
		if res, ok := c.lookup(ctx, keys[i]); ok {
			r := res
			out[i] = models.PredictionOutcome{Result: &r}
			continue
		}
		missIdx = append(missIdx, i)
		missing = append(missing, in)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.next.PredictBatch(ctx, missing, influence)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j >= len(fresh) {
			out[i] = models.PredictionOutcome{Err: predictorError(noPrediction)}
			continue
		}
		out[i] = fresh[j]
		if fresh[j].Err == nil && fresh[j].Result != nil {
			c.store(ctx, keys[i], *fresh[j].Result)
		}
	}
	return out, nil
}

func (c *CachedPredictor) Validate(ctx context.Context, testDataPath string, influence float64) (json.RawMessage, error) {
	return c.next.Validate(ctx, testDataPath, influence)
}

func (c *CachedPredictor) FindOptimal(ctx context.Context, testDataPath string, influenceValues []float64) (json.RawMessage, error) {
	return c.next.FindOptimal(ctx, testDataPath, influenceValues)
}
