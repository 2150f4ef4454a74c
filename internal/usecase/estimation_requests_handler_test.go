package usecase

import (
	"context"
	"errors"
	"testing"

	"StoryRisk/internal/domain/models"
)

func TestEstimationRequestsHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		predErr   error
		wantErr   bool
		wantSaved int
	}{
		{name: "malformed json", body: `{"stories":`},
		{name: "no stories", body: `{"stories":[]}`},
		{name: "stored", body: `{"stories":[{"title":"a","teamEstimate":"4"},{"title":"b"}],"projectId":"p","dqnInfluence":0.7}`, wantSaved: 2},
		{name: "predictor down", body: `{"stories":[{"title":"a"}]}`, predErr: models.PredictorFailure(models.ErrPredictorUnavailable, "run", errors.New("down")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPredictor{err: tt.predErr, batch: []models.PredictionOutcome{{Result: ok(3, 4)}, {Result: ok(1, 2)}}}
			e, store, _ := newTestEstimator(p)
			h := NewEstimationRequestsHandler("estimation.requests", e, nil)
			if h.Type() != EstimationRequestJobType {
				t.Fatalf("unexpected job type %q", h.Type())
			}
			if h.Topic() != "estimation.requests" {
				t.Fatalf("unexpected topic %q", h.Topic())
			}

			err := h.Handle(context.Background(), []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle error = %v, wantErr %v", err, tt.wantErr)
			}
			recs, _ := store.Find(context.Background(), models.StoryFilter{})
			if len(recs) != tt.wantSaved {
				t.Fatalf("saved %d records, want %d", len(recs), tt.wantSaved)
			}
			if tt.wantSaved > 0 {
				if p.lastInfl != 0.7 {
					t.Fatalf("influence %v not passed", p.lastInfl)
				}
				for _, r := range recs {
					if r.ProjectID != "p" {
						t.Fatalf("project not applied: %+v", r)
					}
				}
			}
		})
	}
}
