package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"StoryRisk/internal/domain/models"
	"StoryRisk/internal/repository"
	"StoryRisk/internal/service/ratelimit"
	"StoryRisk/internal/usecase"
	xhttp "StoryRisk/pkg/http"
	xlogger "StoryRisk/pkg/logger"
	"StoryRisk/pkg/queue"

	"github.com/labstack/echo/v4"
)

type fakePredictor struct {
	err error
}

func (p *fakePredictor) PredictOne(_ context.Context, in models.EstimationInput, _ float64) (models.PredictionResult, error) {
	if p.err != nil {
		return models.PredictionResult{}, p.err
	}
	return models.PredictionResult{RFPrediction: 4, AdjustedPrediction: 5, Confidence: 0.9, FullAdjustment: 1, AppliedAdjustment: 0.3}, nil
}

func (p *fakePredictor) PredictBatch(_ context.Context, ins []models.EstimationInput, _ float64) ([]models.PredictionOutcome, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]models.PredictionOutcome, len(ins))
	for i := range ins {
		out[i] = models.PredictionOutcome{Result: &models.PredictionResult{RFPrediction: 2, AdjustedPrediction: float64(i + 2)}}
	}
	return out, nil
}

func (p *fakePredictor) Validate(context.Context, string, float64) (json.RawMessage, error) {
	return json.RawMessage(`{"mae":0.5}`), p.err
}

func (p *fakePredictor) FindOptimal(context.Context, string, []float64) (json.RawMessage, error) {
	return json.RawMessage(`{"best":0.4}`), p.err
}

type env struct {
	e     *echo.Echo
	store *repository.MemoryStoryStore
	pred  *fakePredictor
}

func newEnv(t *testing.T, rl RateLimitConfig) *env {
	t.Helper()
	pred := &fakePredictor{}
	store := repository.NewMemoryStoryStore()
	est := usecase.NewEstimator(pred, store, nil, nil, nil, models.DefaultInfluence)
	t.Cleanup(func() { _ = est.Drain(context.Background()) })

	e := echo.New()
	e.HTTPErrorHandler = xhttp.ErrorHandler(xlogger.Nop())
	NewEstimateHandler(nil, est, store, nil, ratelimit.New(), rl).RegisterRoutes(e)
	return &env{e: e, store: store, pred: pred}
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (v *env) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	var out envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if out.Status != rec.Code {
		t.Fatalf("envelope status %d != http status %d", out.Status, rec.Code)
	}
	return rec.Code, out
}

func TestEstimateStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		predErr error
		status  int
		code    string
	}{
		{name: "ok", body: `{"title":"Login","teamEstimate":8}`, status: http.StatusOK},
		{name: "missing title", body: `{"description":"x"}`, status: http.StatusBadRequest, code: "ERR_REQUIRED"},
		{name: "blank title", body: `{"title":"   "}`, status: http.StatusBadRequest, code: "ERR_VALIDATION"},
		{name: "predictor down", body: `{"title":"a"}`, predErr: models.PredictorFailure(models.ErrPredictorUnavailable, "run", errors.New("no python")), status: http.StatusServiceUnavailable, code: "ERR_PREDICTOR_UNAVAILABLE"},
		{name: "predictor error", body: `{"title":"a"}`, predErr: models.PredictorFailure(models.ErrPredictorError, "run", errors.New("traceback")), status: http.StatusBadGateway, code: "ERR_PREDICTOR"},
		{name: "empty result", body: `{"title":"a"}`, predErr: models.ErrPredictorEmptyResult, status: http.StatusBadGateway, code: "ERR_PREDICTOR_EMPTY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newEnv(t, RateLimitConfig{})
			v.pred.err = tt.predErr
			status, out := v.do(t, http.MethodPost, "/api/estimate", tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, out.Data)
			}
			if tt.code != "" {
				var errs []map[string]interface{}
				if err := json.Unmarshal(out.Data, &errs); err != nil || len(errs) == 0 {
					t.Fatalf("error detail missing: %s", out.Data)
				}
				if errs[0]["code"] != tt.code {
					t.Fatalf("code = %v, want %s", errs[0]["code"], tt.code)
				}
			}
		})
	}
}

func TestEstimatePersistsAndEchoesInput(t *testing.T) {
	v := newEnv(t, RateLimitConfig{})
	_, out := v.do(t, http.MethodPost, "/api/estimate", `{"title":"Login","teamEstimate":"8","dqnInfluence":0.5,"projectId":"p"}`)

	var res models.EstimateResponse
	if err := json.Unmarshal(out.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.StoryPoint != 5 || res.DQNInfluence != 0.5 || res.Input.Title != "Login" {
		t.Fatalf("unexpected response %+v", res)
	}
	recs, _ := v.store.Find(context.Background(), models.StoryFilter{ProjectID: "p"})
	if len(recs) != 1 || recs[0].Assessment == nil || recs[0].Difference != 3 {
		t.Fatalf("record not persisted with risk: %+v", recs)
	}

	v.do(t, http.MethodPost, "/api/estimate", `{"title":"dry","persist":false}`)
	if all, _ := v.store.Find(context.Background(), models.StoryFilter{}); len(all) != 1 {
		t.Fatalf("persist=false must not store, have %d", len(all))
	}
}

func TestBatchAndListing(t *testing.T) {
	v := newEnv(t, RateLimitConfig{})
	status, out := v.do(t, http.MethodPost, "/api/estimate/batch", `{"stories":[{"title":"a"},{"title":"b","projectId":"own"}],"projectId":"p"}`)
	if status != http.StatusOK {
		t.Fatalf("batch status %d: %s", status, out.Data)
	}
	var batch struct {
		Results int                        `json:"results"`
		Rows    []models.BatchItemResponse `json:"rows"`
	}
	if err := json.Unmarshal(out.Data, &batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if batch.Results != 2 || batch.Rows[0].StoryPoint != 2 || batch.Rows[1].StoryPoint != 3 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.Rows[0].ProjectID != "p" || batch.Rows[1].ProjectID != "own" {
		t.Fatalf("project not applied: %+v", batch.Rows)
	}

	var list struct {
		Results int                   `json:"results"`
		Rows    []*models.StoryRecord `json:"rows"`
	}
	_, out = v.do(t, http.MethodGet, "/api/estimate/stories", "")
	if err := json.Unmarshal(out.Data, &list); err != nil || list.Results != 2 {
		t.Fatalf("list all: %v %+v", err, list)
	}
	_, out = v.do(t, http.MethodGet, "/api/estimate/projects/own/stories", "")
	if err := json.Unmarshal(out.Data, &list); err != nil || list.Results != 1 || list.Rows[0].Title != "b" {
		t.Fatalf("list project: %v %+v", err, list)
	}

	if status, _ := v.do(t, http.MethodPost, "/api/estimate/batch", `{"stories":[]}`); status != http.StatusBadRequest {
		t.Fatalf("empty batch status %d", status)
	}
}

func TestUpdateTeamEstimate(t *testing.T) {
	v := newEnv(t, RateLimitConfig{})
	rec := &models.StoryRecord{Title: "x", StoryPoint: 3}
	if err := v.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing story", body: `{"storyId":"nope","teamEstimate":3}`, status: http.StatusNotFound},
		{name: "missing estimate", body: `{"storyId":"` + rec.ID + `"}`, status: http.StatusBadRequest},
		{name: "not a number", body: `{"storyId":"` + rec.ID + `","teamEstimate":"abc"}`, status: http.StatusBadRequest},
		{name: "ok", body: `{"storyId":"` + rec.ID + `","teamEstimate":9}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := v.do(t, http.MethodPut, "/api/estimate/update-team-estimate", tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, out.Data)
			}
		})
	}
	got, _ := v.store.FindByID(context.Background(), rec.ID)
	if got.RiskLevel != "high" || got.ComparisonStatus != "severe-overestimate" {
		t.Fatalf("unexpected stored risk %+v", got.Assessment)
	}
}

func TestSaveStoryAndPassthrough(t *testing.T) {
	v := newEnv(t, RateLimitConfig{})
	status, out := v.do(t, http.MethodPost, "/api/estimate/save-story", `{"title":"s","storyPoint":5,"teamEstimate":4}`)
	if status != http.StatusCreated {
		t.Fatalf("save status %d: %s", status, out.Data)
	}
	var rec models.StoryRecord
	if err := json.Unmarshal(out.Data, &rec); err != nil || rec.ID == "" || rec.DQNInfluence != models.DefaultInfluence {
		t.Fatalf("unexpected saved record %+v (%v)", rec, err)
	}

	status, out = v.do(t, http.MethodPost, "/api/estimate/validate", `{"testDataPath":"data.csv"}`)
	if status != http.StatusOK || string(out.Data) != `{"mae":0.5}` {
		t.Fatalf("validate: %d %s", status, out.Data)
	}
	status, _ = v.do(t, http.MethodPost, "/api/estimate/optimal-influence", `{"testDataPath":"d","influenceValues":[0.2,1.4]}`)
	if status != http.StatusBadRequest {
		t.Fatalf("out of range influence accepted: %d", status)
	}
}

func TestSaveStoryRejectsMalformedNumbers(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "infinite confidence", body: `{"title":"bad","storyPoint":3,"confidence":"Infinity"}`, field: "confidence"},
		{name: "missing story point", body: `{"title":"s","teamEstimate":9}`, field: "storyPoint"},
		{name: "text story point", body: `{"title":"s","storyPoint":"abc","teamEstimate":9}`, field: "storyPoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newEnv(t, RateLimitConfig{})
			status, out := v.do(t, http.MethodPost, "/api/estimate/save-story", tt.body)
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d (%s)", status, out.Data)
			}
			var errs []map[string]interface{}
			if err := json.Unmarshal(out.Data, &errs); err != nil || len(errs) == 0 || errs[0]["field"] != tt.field {
				t.Fatalf("unexpected error detail %s", out.Data)
			}

			status, out = v.do(t, http.MethodGet, "/api/estimate/stories", "")
			if status != http.StatusOK {
				t.Fatalf("list after rejected save: %d %s", status, out.Data)
			}
			var list xhttp.ListDataResponse
			if err := json.Unmarshal(out.Data, &list); err != nil || list.Results != 0 {
				t.Fatalf("rejected story was stored: %s", out.Data)
			}
		})
	}
}

func TestRateLimitAndHealth(t *testing.T) {
	v := newEnv(t, RateLimitConfig{Capacity: 1, RefillPerSec: 0.001})
	if status, _ := v.do(t, http.MethodPost, "/api/estimate", `{"title":"a"}`); status != http.StatusOK {
		t.Fatalf("first request status %d", status)
	}
	if status, _ := v.do(t, http.MethodPost, "/api/estimate", `{"title":"a"}`); status != http.StatusTooManyRequests {
		t.Fatalf("second request status %d", status)
	}
	if status, _ := v.do(t, http.MethodGet, "/api/estimate/stories", ""); status != http.StatusOK {
		t.Fatalf("listing must not be rate limited, got %d", status)
	}
	if status, _ := v.do(t, http.MethodGet, "/healthz", ""); status != http.StatusOK {
		t.Fatalf("healthz status %d", status)
	}
}

type fakePublisher struct {
	err     error
	msgType string
	payload any
}

func (p *fakePublisher) Enqueue(_ context.Context, msgType string, payload any) error {
	p.msgType, p.payload = msgType, payload
	return p.err
}

func TestEnqueueBatch(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "accepted", body: `{"stories":[{"title":"a"},{"title":"b"}],"projectId":"p1"}`, status: http.StatusAccepted},
		{name: "empty batch", body: `{"stories":[]}`, status: http.StatusBadRequest},
		{name: "queue stopped", body: `{"stories":[{"title":"a"}]}`, err: queue.ErrNotRunning, status: http.StatusServiceUnavailable},
		{name: "redis down", body: `{"stories":[{"title":"a"}]}`, err: errors.New("lpush: connection refused"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{err: tt.err}
			est := usecase.NewEstimator(&fakePredictor{}, repository.NewMemoryStoryStore(), nil, nil, nil, models.DefaultInfluence)
			e := echo.New()
			e.HTTPErrorHandler = xhttp.ErrorHandler(xlogger.Nop())
			NewEstimateHandler(nil, est, nil, nil, nil, RateLimitConfig{}).WithRequestQueue(pub).RegisterRoutes(e)
			v := &env{e: e}

			status, out := v.do(t, http.MethodPost, "/api/estimate/batch/async", tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (%s)", status, tt.status, out.Data)
			}
			if status != http.StatusAccepted {
				return
			}
			if pub.msgType != usecase.EstimationRequestJobType {
				t.Fatalf("type = %q", pub.msgType)
			}
			msg, ok := pub.payload.(models.EstimationRequestMessage)
			if !ok || len(msg.Stories) != 2 || msg.ProjectID != "p1" {
				t.Fatalf("payload = %#v", pub.payload)
			}
		})
	}
}

func TestAsyncRouteAbsentWithoutQueue(t *testing.T) {
	v := newEnv(t, RateLimitConfig{})
	req := httptest.NewRequest(http.MethodPost, "/api/estimate/batch/async", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	if rec.Code == http.StatusAccepted {
		t.Fatalf("async route registered without a queue")
	}
}
