package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"StoryRisk/internal/domain/models"
	domrepo "StoryRisk/internal/domain/repository"
	"StoryRisk/internal/domain/risk"
	"StoryRisk/internal/domain/service"
	"StoryRisk/pkg/logger"
	"StoryRisk/pkg/metrics"
)

// Backfill outcomes, also used as metric labels.
const (
	BackfillRepaired = "repaired"
	BackfillSkipped  = "skipped"
	BackfillFailed   = "failed"
)

// Estimator runs story estimations and keeps stored risk data consistent
// with team estimates. It is the only writer of story records.
type Estimator struct {
	predictor        service.Predictor
	store            domrepo.StoryStore
	events           domrepo.EventPublisher
	metrics          domrepo.Metrics
	log              *logger.Logger
	defaultInfluence float64

	backfills sync.WaitGroup
}

// NewEstimator wires the estimator. events, m and log may be nil.
func NewEstimator(p service.Predictor, store domrepo.StoryStore, events domrepo.EventPublisher, m domrepo.Metrics, log *logger.Logger, defaultInfluence float64) *Estimator {
	if events == nil {
		events = noopEvents{}
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if !models.IsFinite(defaultInfluence) || defaultInfluence < 0 || defaultInfluence > 1 {
		defaultInfluence = models.DefaultInfluence
	}
	return &Estimator{
		predictor:        p,
		store:            store,
		events:           events,
		metrics:          m,
		log:              log.With(logger.String("component", "estimator")),
		defaultInfluence: defaultInfluence,
	}
}

// ResolveInfluence returns v clamped to [0,1], or the configured default when
// v is nil or not a number.
func (e *Estimator) ResolveInfluence(v *float64) float64 {
	if v == nil || !models.IsFinite(*v) {
		return e.defaultInfluence
	}
	return models.NormalizeInfluence(v)
}

// EstimateOne predicts one story and, when persist is set, stores it.
func (e *Estimator) EstimateOne(ctx context.Context, in models.EstimationInput, influence float64, persist bool) (models.PredictionResult, error) {
	const op = "estimate story"
	if strings.TrimSpace(in.Title) == "" {
		e.metrics.RecordError(kindLabel(models.ErrValidation))
		return models.PredictionResult{}, models.Validationf("title", "title is required")
	}
	influence = e.ResolveInfluence(&influence)

	start := time.Now()
	res, err := e.predictor.PredictOne(ctx, in, influence)
	e.metrics.RecordLatency("predict_single", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordPrediction("single", "error")
		e.metrics.RecordError(kindLabel(err))
		return models.PredictionResult{}, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	e.metrics.RecordPrediction("single", "ok")

	if persist {
		rec := newRecord(in, res, influence)
		if err := e.store.Create(ctx, rec); err != nil {
			e.metrics.RecordError(kindLabel(models.ErrStore))
			return models.PredictionResult{}, models.StoreFailure(op, err)
		}
		e.recordRisk(rec)
		e.publish(ctx, models.EventStoryCreated, rec)
	}
	return res, nil
}

// EstimateBatch predicts every input and returns one result per input in the
// same order. Failed items come back as zero-valued results carrying Error and
// are persisted the same way.
func (e *Estimator) EstimateBatch(ctx context.Context, ins []models.EstimationInput, influence float64, persist bool) ([]models.PredictionResult, error) {
	const op = "estimate batch"
	if len(ins) == 0 {
		e.metrics.RecordError(kindLabel(models.ErrValidation))
		return nil, models.Validationf("stories", "stories must be a non-empty array")
	}
	for i, in := range ins {
		if strings.TrimSpace(in.Title) == "" {
			e.metrics.RecordError(kindLabel(models.ErrValidation))
			return nil, models.Validationf("stories", "story at index %d is missing a title", i)
		}
	}
	influence = e.ResolveInfluence(&influence)

	start := time.Now()
	outcomes, err := e.predictor.PredictBatch(ctx, ins, influence)
	e.metrics.RecordLatency("predict_batch", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordPrediction("batch", "error")
		e.metrics.RecordError(kindLabel(err))
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}

	results := make([]models.PredictionResult, len(ins))
	for i := range ins {
		var oc models.PredictionOutcome
		if i < len(outcomes) {
			oc = outcomes[i]
		}
		switch {
		case oc.Err == nil && oc.Result != nil:
			results[i] = *oc.Result
			e.metrics.RecordPrediction("batch", "ok")
		default:
			results[i] = models.FailedPrediction(failureMessage(oc.Err))
			e.metrics.RecordPrediction("batch", "item_error")
		}
	}

	if persist {
		recs := make([]*models.StoryRecord, len(ins))
		for i, in := range ins {
			recs[i] = newRecord(in, results[i], influence)
		}
		if err := e.store.InsertMany(ctx, recs); err != nil {
			e.metrics.RecordError(kindLabel(models.ErrStore))
			return nil, models.StoreFailure(op, err)
		}
		for _, rec := range recs {
			e.recordRisk(rec)
			e.publish(ctx, models.EventStoryCreated, rec)
		}
	}
	return results, nil
}

// ListAll returns every record, newest first, with missing risk data filled in.
func (e *Estimator) ListAll(ctx context.Context) ([]*models.StoryRecord, error) {
	return e.list(ctx, models.StoryFilter{}, "list stories")
}

// ListByProject is ListAll restricted to one project.
func (e *Estimator) ListByProject(ctx context.Context, projectID string) ([]*models.StoryRecord, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, models.Validationf("projectId", "projectId is required")
	}
	return e.list(ctx, models.StoryFilter{ProjectID: projectID}, "list project stories")
}

func (e *Estimator) list(ctx context.Context, filter models.StoryFilter, op string) ([]*models.StoryRecord, error) {
	recs, err := e.store.Find(ctx, filter)
	if err != nil {
		e.metrics.RecordError(kindLabel(models.ErrStore))
		return nil, models.StoreFailure(op, err)
	}
	for _, rec := range recs {
		if !rec.NeedsBackfill() {
			continue
		}
		a := risk.Classify(rec.StoryPoint, *rec.TeamEstimate)
		rec.Assessment = &a
		e.backfillAsync(ctx, rec.ID, rec.Version, a)
	}
	return recs, nil
}

// backfillAsync writes a read-time repair without holding up the caller. The
// write outlives the request and is tracked for Drain.
func (e *Estimator) backfillAsync(ctx context.Context, id string, version int64, a risk.Assessment) {
	bctx := context.WithoutCancel(ctx)
	e.backfills.Add(1)
	go func() {
		defer e.backfills.Done()
		e.writeBackfill(bctx, id, version, a)
	}()
}

// writeBackfill stores a, but only if the record is still at version.
func (e *Estimator) writeBackfill(ctx context.Context, id string, version int64, a risk.Assessment) string {
	upd, err := e.store.UpdateByID(ctx, id, models.StoryPatch{Assessment: &a}, domrepo.UpdateOptions{ExpectedVersion: version})
	switch {
	case errors.Is(err, models.ErrVersionConflict):
		e.log.Debug("backfill skipped, record changed", logger.String("story_id", id), logger.Int64("version", version))
		e.metrics.RecordBackfill(BackfillSkipped)
		return BackfillSkipped
	case err != nil:
		e.log.Error("backfill write failed", logger.String("story_id", id), logger.Error(err))
		e.metrics.RecordBackfill(BackfillFailed)
		return BackfillFailed
	case upd == nil:
		e.metrics.RecordBackfill(BackfillSkipped)
		return BackfillSkipped
	}
	e.metrics.RecordBackfill(BackfillRepaired)
	e.recordRisk(upd)
	e.publish(ctx, models.EventStoryUpdated, upd)
	return BackfillRepaired
}

// Drain waits for in-flight backfill writes.
func (e *Estimator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.backfills.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain backfills: %w", ctx.Err())
	}
}

// SweepReport summarises one Sweep.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sweep repairs every record that has a team estimate but no risk data,
// synchronously.
func (e *Estimator) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	recs, err := e.store.Find(ctx, models.StoryFilter{})
	if err != nil {
		return rep, models.StoreFailure("sweep", err)
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		if !rec.NeedsBackfill() {
			continue
		}
		switch e.writeBackfill(ctx, rec.ID, rec.Version, risk.Classify(rec.StoryPoint, *rec.TeamEstimate)) {
		case BackfillRepaired:
			rep.Repaired++
		case BackfillSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	return rep, nil
}

// SetTeamEstimate records the team's estimate and recomputes risk against the
// stored story point. Concurrent calls are last-write-wins.
func (e *Estimator) SetTeamEstimate(ctx context.Context, storyID string, teamEstimate float64) (*models.StoryRecord, error) {
	const op = "update team estimate"
	if strings.TrimSpace(storyID) == "" {
		return nil, models.Validationf("storyId", "storyId is required")
	}
	if !models.IsFinite(teamEstimate) {
		return nil, models.Validationf("teamEstimate", "teamEstimate must be a number")
	}

	cur, err := e.store.FindByID(ctx, storyID)
	if err != nil {
		e.metrics.RecordError(kindLabel(models.ErrStore))
		return nil, models.StoreFailure(op, err)
	}
	if cur == nil {
		return nil, models.NotFoundf("story with id %s not found", storyID)
	}

	a := risk.Classify(cur.StoryPoint, teamEstimate)
	upd, err := e.store.UpdateByID(ctx, storyID, models.StoryPatch{TeamEstimate: &teamEstimate, Assessment: &a}, domrepo.UpdateOptions{})
	if err != nil {
		e.metrics.RecordError(kindLabel(models.ErrStore))
		return nil, models.StoreFailure(op, err)
	}
	if upd == nil {
		return nil, models.NotFoundf("story with id %s not found", storyID)
	}
	e.recordRisk(upd)
	e.publish(ctx, models.EventStoryUpdated, upd)
	return upd, nil
}

// SaveStory stores a story whose prediction was computed by the caller.
func (e *Estimator) SaveStory(ctx context.Context, in models.SaveStoryInput) (*models.StoryRecord, error) {
	const op = "save story"
	if strings.TrimSpace(in.Title) == "" {
		return nil, models.Validationf("title", "title is required")
	}
	if !in.StoryPoint.Valid {
		return nil, models.Validationf("storyPoint", "storyPoint is required and must be a number")
	}
	for _, f := range []struct {
		name string
		n    models.OptionalNumber
	}{
		{"rfPrediction", in.RFPrediction},
		{"confidence", in.Confidence},
		{"fullAdjustment", in.FullAdjustment},
		{"appliedAdjustment", in.AppliedAdjustment},
		{"teamEstimate", in.TeamEstimate},
	} {
		if f.n.Set && !f.n.Valid {
			return nil, models.Validationf(f.name, "%s must be a finite number", f.name)
		}
	}
	rec := &models.StoryRecord{
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		RFPrediction:      in.RFPrediction.Value,
		StoryPoint:        in.StoryPoint.Value,
		Confidence:        in.Confidence.Value,
		FullAdjustment:    in.FullAdjustment.Value,
		AppliedAdjustment: in.AppliedAdjustment.Value,
		DQNInfluence:      in.DQNInfluence,
		ProjectID:         in.ProjectID,
	}
	if te := in.TeamEstimate.Ptr(); te != nil {
		a := risk.Classify(rec.StoryPoint, *te)
		rec.TeamEstimate = te
		rec.Assessment = &a
	}
	if err := e.store.Create(ctx, rec); err != nil {
		e.metrics.RecordError(kindLabel(models.ErrStore))
		return nil, models.StoreFailure(op, err)
	}
	e.recordRisk(rec)
	e.publish(ctx, models.EventStoryCreated, rec)
	return rec, nil
}

// ValidateModel runs the model's validation mode and returns its metrics
// payload unchanged.
func (e *Estimator) ValidateModel(ctx context.Context, testDataPath string, influence float64) (json.RawMessage, error) {
	if strings.TrimSpace(testDataPath) == "" {
		return nil, models.Validationf("testDataPath", "testDataPath is required")
	}
	raw, err := e.predictor.Validate(ctx, testDataPath, e.ResolveInfluence(&influence))
	if err != nil {
		e.metrics.RecordError(kindLabel(err))
		return nil, models.PredictorFailure(models.ErrPredictorError, "validate model", err)
	}
	return raw, nil
}

// FindOptimalInfluence asks the model to score each influence value. An empty
// list lets the model use its own range.
func (e *Estimator) FindOptimalInfluence(ctx context.Context, testDataPath string, influenceValues []float64) (json.RawMessage, error) {
	if strings.TrimSpace(testDataPath) == "" {
		return nil, models.Validationf("testDataPath", "testDataPath is required")
	}
	for i, v := range influenceValues {
		if !models.IsFinite(v) || v < 0 || v > 1 {
			return nil, models.Validationf("influenceValues", "influence value at index %d must be within [0,1]", i)
		}
	}
	raw, err := e.predictor.FindOptimal(ctx, testDataPath, influenceValues)
	if err != nil {
		e.metrics.RecordError(kindLabel(err))
		return nil, models.PredictorFailure(models.ErrPredictorError, "find optimal influence", err)
	}
	return raw, nil
}

func (e *Estimator) publish(ctx context.Context, typ models.EventType, rec *models.StoryRecord) {
	ev := models.StoryEvent{Type: typ, Story: rec.Clone(), OccurredAt: time.Now().UTC()}
	if err := e.events.PublishStoryEvent(ctx, ev); err != nil {
		e.metrics.RecordError("event_publish")
		e.log.Warn("publish story event failed",
			logger.String("type", string(typ)),
			logger.String("story_id", rec.ID),
			logger.Error(err),
		)
	}
}

func (e *Estimator) recordRisk(rec *models.StoryRecord) {
	if rec.Assessment != nil {
		e.metrics.RecordRisk(string(rec.RiskLevel))
	}
}

// newRecord builds the record for a prediction, classifying risk when the
// input carries a usable team estimate.
func newRecord(in models.EstimationInput, res models.PredictionResult, influence float64) *models.StoryRecord {
	rec := &models.StoryRecord{
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		RFPrediction:      res.RFPrediction,
		StoryPoint:        res.AdjustedPrediction,
		Confidence:        res.Confidence,
		FullAdjustment:    res.FullAdjustment,
		AppliedAdjustment: res.AppliedAdjustment,
		DQNInfluence:      influence,
		ProjectID:         in.ProjectID,
		Error:             res.Error,
	}
	if te := in.TeamEstimate.Ptr(); te != nil {
		a := risk.Classify(rec.StoryPoint, *te)
		rec.TeamEstimate = te
		rec.Assessment = &a
	}
	return rec
}

func failureMessage(err error) string {
	var ee *models.EstimationError
	for errors.As(err, &ee) {
		if ee.Msg != "" {
			return ee.Msg
		}
		err = ee.Err
		ee = nil
	}
	return ""
}

// kindLabel names an error kind for metrics.
func kindLabel(err error) string {
	switch models.KindOf(err) {
	case models.ErrValidation:
		return "validation"
	case models.ErrPredictorUnavailable:
		return "predictor_unavailable"
	case models.ErrPredictorError:
		return "predictor_error"
	case models.ErrPredictorEmptyResult:
		return "predictor_empty"
	case models.ErrNotFound:
		return "not_found"
	case models.ErrStore:
		return "store"
	case models.ErrVersionConflict:
		return "version_conflict"
	default:
		return "internal"
	}
}

type noopEvents struct{}

func (noopEvents) PublishStoryEvent(context.Context, models.StoryEvent) error { return nil }
func (noopEvents) Close() error                                              { return nil }
