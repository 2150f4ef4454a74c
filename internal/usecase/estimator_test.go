package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"StoryRisk/internal/domain/models"
	domrepo "StoryRisk/internal/domain/repository"
	"StoryRisk/internal/domain/risk"
	"StoryRisk/internal/repository"
)

type stubPredictor struct {
	mu       sync.Mutex
	calls    int
	one      models.PredictionResult
	batch    []models.PredictionOutcome
	err      error
	raw      json.RawMessage
	lastInfl float64
}

func (p *stubPredictor) PredictOne(_ context.Context, _ models.EstimationInput, infl float64) (models.PredictionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastInfl = infl
	return p.one, p.err
}

func (p *stubPredictor) PredictBatch(_ context.Context, ins []models.EstimationInput, infl float64) ([]models.PredictionOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastInfl = infl
	if p.err != nil {
		return nil, p.err
	}
	return p.batch, nil
}

func (p *stubPredictor) Validate(context.Context, string, float64) (json.RawMessage, error) {
	return p.raw, p.err
}

func (p *stubPredictor) FindOptimal(context.Context, string, []float64) (json.RawMessage, error) {
	return p.raw, p.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StoryEvent
}

func (r *recordingPublisher) PublishStoryEvent(_ context.Context, ev models.StoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func ok(rf, adj float64) *models.PredictionResult {
	return &models.PredictionResult{RFPrediction: rf, AdjustedPrediction: adj, Confidence: 0.8, FullAdjustment: adj - rf, AppliedAdjustment: (adj - rf) * 0.3}
}

func newTestEstimator(p *stubPredictor) (*Estimator, *repository.MemoryStoryStore, *recordingPublisher) {
	store := repository.NewMemoryStoryStore()
	events := &recordingPublisher{}
	return NewEstimator(p, store, events, nil, nil, models.DefaultInfluence), store, events
}

func TestEstimateOnePersistsAndClassifies(t *testing.T) {
	p := &stubPredictor{one: *ok(4, 5)}
	e, store, events := newTestEstimator(p)
	ctx := context.Background()

	in := models.EstimationInput{Title: "  Login page ", Description: "oauth", ProjectID: "p1", TeamEstimate: models.Num(8)}
	res, err := e.EstimateOne(ctx, in, 0.5, true)
	if err != nil {
		t.Fatalf("EstimateOne: %v", err)
	}
	if res.AdjustedPrediction != 5 || p.lastInfl != 0.5 {
		t.Fatalf("unexpected result %+v influence %v", res, p.lastInfl)
	}

	recs, err := store.Find(ctx, models.StoryFilter{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("Find: %v, %d records", err, len(recs))
	}
	rec := recs[0]
	if rec.Title != "Login page" || rec.StoryPoint != 5 || rec.DQNInfluence != 0.5 || rec.ProjectID != "p1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Assessment == nil || rec.Difference != 3 || rec.ComparisonStatus != risk.MildOverestimate || rec.RiskLevel != risk.Medium {
		t.Fatalf("unexpected assessment %+v", rec.Assessment)
	}
	if events.count(models.EventStoryCreated) != 1 {
		t.Fatalf("expected one created event")
	}
}

func TestEstimateOneWithoutPersist(t *testing.T) {
	e, store, events := newTestEstimator(&stubPredictor{one: *ok(3, 3)})
	if _, err := e.EstimateOne(context.Background(), models.EstimationInput{Title: "x"}, 0.3, false); err != nil {
		t.Fatalf("EstimateOne: %v", err)
	}
	recs, _ := store.Find(context.Background(), models.StoryFilter{})
	if len(recs) != 0 || events.count(models.EventStoryCreated) != 0 {
		t.Fatalf("nothing should be stored or published")
	}
}

func TestEstimateOneErrors(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		predErr   error
		want      error
		wantCalls int
	}{
		{name: "blank title", title: "  ", want: models.ErrValidation},
		{name: "predictor down", title: "a", predErr: models.PredictorFailure(models.ErrPredictorUnavailable, "run", errors.New("exec: not found")), want: models.ErrPredictorUnavailable, wantCalls: 1},
		{name: "empty result", title: "a", predErr: models.ErrPredictorEmptyResult, want: models.ErrPredictorEmptyResult, wantCalls: 1},
		{name: "model error", title: "a", predErr: models.PredictorFailure(models.ErrPredictorError, "run", errors.New("boom")), want: models.ErrPredictorError, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPredictor{err: tt.predErr}
			e, store, _ := newTestEstimator(p)
			_, err := e.EstimateOne(context.Background(), models.EstimationInput{Title: tt.title}, 0.3, true)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if p.calls != tt.wantCalls {
				t.Fatalf("predictor calls = %d, want %d", p.calls, tt.wantCalls)
			}
			if recs, _ := store.Find(context.Background(), models.StoryFilter{}); len(recs) != 0 {
				t.Fatalf("failed estimation must not persist")
			}
		})
	}
}

func TestEstimateBatchKeepsAlignment(t *testing.T) {
	p := &stubPredictor{batch: []models.PredictionOutcome{
		{Result: ok(2, 3)},
		{Err: &models.EstimationError{Kind: models.ErrPredictorError, Msg: "bad input"}},
	}}
	e, store, events := newTestEstimator(p)
	ctx := context.Background()

	ins := []models.EstimationInput{
		{Title: "a", TeamEstimate: models.Num(3)},
		{Title: "b", TeamEstimate: models.Num(2)},
		{Title: "c"},
	}
	results, err := e.EstimateBatch(ctx, models.ApplyProject(ins, "proj"), 0.4, true)
	if err != nil {
		t.Fatalf("EstimateBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Failed() || results[0].AdjustedPrediction != 3 {
		t.Fatalf("slot 0: %+v", results[0])
	}
	if results[1].Error != "bad input" || results[1].AdjustedPrediction != 0 {
		t.Fatalf("slot 1: %+v", results[1])
	}
	if results[2].Error != "No prediction available" {
		t.Fatalf("slot 2: %+v", results[2])
	}

	recs, _ := store.Find(ctx, models.StoryFilter{ProjectID: "proj"})
	if len(recs) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(recs))
	}
	byTitle := map[string]*models.StoryRecord{}
	for _, r := range recs {
		byTitle[r.Title] = r
	}
	if a := byTitle["a"].Assessment; a == nil || a.ComparisonStatus != risk.Accurate {
		t.Fatalf("a: %+v", a)
	}
	if a := byTitle["b"].Assessment; a == nil || a.Difference != 2 || byTitle["b"].Error != "bad input" {
		t.Fatalf("b: %+v", byTitle["b"])
	}
	if byTitle["c"].Assessment != nil {
		t.Fatalf("c has no team estimate and must not be classified")
	}
	if events.count(models.EventStoryCreated) != 3 {
		t.Fatalf("expected 3 created events")
	}
}

func TestEstimateBatchValidation(t *testing.T) {
	p := &stubPredictor{}
	e, _, _ := newTestEstimator(p)
	for name, ins := range map[string][]models.EstimationInput{
		"empty":         nil,
		"missing title": {{Title: "a"}, {Title: ""}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := e.EstimateBatch(context.Background(), ins, 0.3, true); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if p.calls != 0 {
		t.Fatalf("predictor must not be called")
	}
}

func seedUnclassified(t *testing.T, store domrepo.StoryStore, project string, sp, team float64) *models.StoryRecord {
	t.Helper()
	rec := &models.StoryRecord{Title: "legacy", StoryPoint: sp, TeamEstimate: &team, ProjectID: project}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestListBackfillsMissingRisk(t *testing.T) {
	e, store, events := newTestEstimator(&stubPredictor{})
	ctx := context.Background()
	seeded := seedUnclassified(t, store, "p1", 5, 12)

	recs, err := e.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(recs) != 1 || recs[0].Assessment == nil || recs[0].RiskLevel != risk.High {
		t.Fatalf("expected backfilled response, got %+v", recs)
	}
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	stored, _ := store.FindByID(ctx, seeded.ID)
	if stored.Assessment == nil || stored.ComparisonStatus != risk.SevereOverestimate || stored.Version != 2 {
		t.Fatalf("backfill not written: %+v", stored)
	}

	if _, err := e.ListAll(ctx); err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if err := e.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	again, _ := store.FindByID(ctx, seeded.ID)
	if again.Version != 2 {
		t.Fatalf("second read must not rewrite, version %d", again.Version)
	}
	if events.count(models.EventStoryUpdated) != 1 {
		t.Fatalf("expected one updated event")
	}
}

func TestBackfillSkipsChangedRecord(t *testing.T) {
	e, store, _ := newTestEstimator(&stubPredictor{})
	ctx := context.Background()
	seeded := seedUnclassified(t, store, "", 5, 6)

	if _, err := e.SetTeamEstimate(ctx, seeded.ID, 1); err != nil {
		t.Fatalf("SetTeamEstimate: %v", err)
	}
	stale := risk.Classify(5, 6)
	if got := e.writeBackfill(ctx, seeded.ID, seeded.Version, stale); got != BackfillSkipped {
		t.Fatalf("expected skipped, got %s", got)
	}

	cur, _ := store.FindByID(ctx, seeded.ID)
	if *cur.TeamEstimate != 1 || cur.Difference != -4 || cur.ComparisonStatus != risk.MildUnderestimate {
		t.Fatalf("newer write was overwritten: %+v %+v", cur, cur.Assessment)
	}
}

func TestSweepReport(t *testing.T) {
	e, store, _ := newTestEstimator(&stubPredictor{one: *ok(1, 1)})
	ctx := context.Background()
	seedUnclassified(t, store, "", 3, 3)
	seedUnclassified(t, store, "", 3, 4)
	if _, err := e.EstimateOne(ctx, models.EstimationInput{Title: "fresh"}, 0.3, true); err != nil {
		t.Fatalf("EstimateOne: %v", err)
	}

	rep, err := e.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep != (SweepReport{Scanned: 3, Repaired: 2}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	rep, _ = e.Sweep(ctx)
	if rep.Repaired != 0 {
		t.Fatalf("second sweep repaired %d", rep.Repaired)
	}
}

func TestSetTeamEstimate(t *testing.T) {
	e, store, events := newTestEstimator(&stubPredictor{})
	ctx := context.Background()
	seeded := seedUnclassified(t, store, "", 8, 8)

	upd, err := e.SetTeamEstimate(ctx, seeded.ID, 2)
	if err != nil {
		t.Fatalf("SetTeamEstimate: %v", err)
	}
	if upd.Difference != -6 || upd.ComparisonStatus != risk.SevereUnderestimate || upd.RiskLevel != risk.High {
		t.Fatalf("unexpected assessment %+v", upd.Assessment)
	}
	if events.count(models.EventStoryUpdated) != 1 {
		t.Fatalf("expected an updated event")
	}

	if _, err := e.SetTeamEstimate(ctx, "missing", 2); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.SetTeamEstimate(ctx, seeded.ID, math.NaN()); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.SetTeamEstimate(ctx, "", 1); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveStory(t *testing.T) {
	e, _, _ := newTestEstimator(&stubPredictor{})
	rec, err := e.SaveStory(context.Background(), models.SaveStoryInput{Title: "s", StoryPoint: models.Num(5), DQNInfluence: 0.3, TeamEstimate: models.Num(5)})
	if err != nil {
		t.Fatalf("SaveStory: %v", err)
	}
	if rec.ID == "" || rec.DisplayID != 1 || rec.ComparisonStatus != risk.Accurate {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := e.SaveStory(context.Background(), models.SaveStoryInput{StoryPoint: models.Num(1)}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveStoryRejectsBadNumbers(t *testing.T) {
	garbage := models.OptionalNumber{Set: true}
	tests := []struct {
		name  string
		in    models.SaveStoryInput
		field string
	}{
		{name: "missing story point", in: models.SaveStoryInput{Title: "s", TeamEstimate: models.Num(9)}, field: "storyPoint"},
		{name: "unparseable story point", in: models.SaveStoryInput{Title: "s", StoryPoint: garbage}, field: "storyPoint"},
		{name: "infinite confidence", in: models.SaveStoryInput{Title: "s", StoryPoint: models.Num(3), Confidence: models.Num(math.Inf(1))}, field: "confidence"},
		{name: "nan rf prediction", in: models.SaveStoryInput{Title: "s", StoryPoint: models.Num(3), RFPrediction: models.Num(math.NaN())}, field: "rfPrediction"},
		{name: "bad full adjustment", in: models.SaveStoryInput{Title: "s", StoryPoint: models.Num(3), FullAdjustment: garbage}, field: "fullAdjustment"},
		{name: "bad applied adjustment", in: models.SaveStoryInput{Title: "s", StoryPoint: models.Num(3), AppliedAdjustment: garbage}, field: "appliedAdjustment"},
		{name: "bad team estimate", in: models.SaveStoryInput{Title: "s", StoryPoint: models.Num(3), TeamEstimate: garbage}, field: "teamEstimate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store, events := newTestEstimator(&stubPredictor{})
			_, err := e.SaveStory(context.Background(), tt.in)
			var ee *models.EstimationError
			if !errors.As(err, &ee) || !errors.Is(err, models.ErrValidation) || ee.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
			recs, _ := store.Find(context.Background(), models.StoryFilter{})
			if len(recs) != 0 || events.count(models.EventStoryCreated) != 0 {
				t.Fatalf("rejected story was stored: %+v", recs)
			}
		})
	}
}

func TestTeamEstimateLifecycle(t *testing.T) {
	p := &stubPredictor{one: models.PredictionResult{RFPrediction: 5, AdjustedPrediction: 6, Confidence: 0.8, FullAdjustment: 1, AppliedAdjustment: 0.3}}
	e, store, _ := newTestEstimator(p)
	ctx := context.Background()

	if _, err := e.EstimateOne(ctx, models.EstimationInput{Title: "Add login"}, 0.3, true); err != nil {
		t.Fatalf("EstimateOne: %v", err)
	}
	recs, err := store.Find(ctx, models.StoryFilter{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("Find: %v, %d records", err, len(recs))
	}
	rec := recs[0]
	if rec.StoryPoint != 6 || rec.TeamEstimate != nil || rec.Assessment != nil {
		t.Fatalf("unexpected new record %+v", rec)
	}

	steps := []struct {
		team   float64
		diff   float64
		status risk.ComparisonStatus
		level  risk.Level
	}{
		{team: 12, diff: 6, status: risk.SevereOverestimate, level: risk.High},
		{team: 6, diff: 0, status: risk.Accurate, level: risk.Low},
		{team: 3, diff: -3, status: risk.MildUnderestimate, level: risk.Medium},
	}
	version := rec.Version
	for _, st := range steps {
		upd, err := e.SetTeamEstimate(ctx, rec.ID, st.team)
		if err != nil {
			t.Fatalf("SetTeamEstimate(%v): %v", st.team, err)
		}
		if upd.Assessment == nil || upd.Difference != st.diff || upd.ComparisonStatus != st.status || upd.RiskLevel != st.level {
			t.Fatalf("team %v: unexpected assessment %+v", st.team, upd.Assessment)
		}
		if upd.Version != version+1 {
			t.Fatalf("team %v: version %d, want %d", st.team, upd.Version, version+1)
		}
		version = upd.Version
	}
}

func TestModelPassthrough(t *testing.T) {
	raw := json.RawMessage(`{"mae":1.2}`)
	e, _, _ := newTestEstimator(&stubPredictor{raw: raw})
	ctx := context.Background()

	got, err := e.ValidateModel(ctx, "data.csv", 0.3)
	if err != nil || string(got) != string(raw) {
		t.Fatalf("ValidateModel: %s, %v", got, err)
	}
	got, err = e.FindOptimalInfluence(ctx, "data.csv", []float64{0, 0.5, 1})
	if err != nil || string(got) != string(raw) {
		t.Fatalf("FindOptimalInfluence: %s, %v", got, err)
	}
	if _, err := e.ValidateModel(ctx, "", 0.3); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.FindOptimalInfluence(ctx, "d", []float64{1.5}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveInfluence(t *testing.T) {
	e := NewEstimator(&stubPredictor{}, repository.NewMemoryStoryStore(), nil, nil, nil, 0.6)
	v := func(f float64) *float64 { return &f }
	tests := []struct {
		in   *float64
		want float64
	}{
		{nil, 0.6},
		{v(math.NaN()), 0.6},
		{v(-1), 0},
		{v(2), 1},
		{v(0.25), 0.25},
	}
	for _, tt := range tests {
		if got := e.ResolveInfluence(tt.in); got != tt.want {
			t.Fatalf("ResolveInfluence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDrainHonoursContext(t *testing.T) {
	e, _, _ := newTestEstimator(&stubPredictor{})
	release := make(chan struct{})
	e.backfills.Add(1)
	go func() {
		<-release
		e.backfills.Done()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(release)
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}
