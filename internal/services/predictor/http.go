package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"StoryRisk/internal/domain/models"
	xhttp "StoryRisk/pkg/http"
)

// Modes understood by the model service.
const (
	ModeSingle      = "single"
	ModeBatch       = "batch"
	ModeValidate    = "validate"
	ModeFindOptimal = "find-optimal"
)

// modelRequest is the body posted to the model service. The service answers
// with the same array envelope the model script prints.
type modelRequest struct {
	Mode            string `json:"mode"`
	Payload         any    `json:"payload"`
	Influence       string `json:"influence,omitempty"`
	InfluenceValues string `json:"influenceValues,omitempty"`
}

// HTTPPredictor calls a model service over HTTP.
type HTTPPredictor struct {
	baseURL string
	client  *xhttp.Client
}

// NewHTTPPredictor creates a client for the model service at baseURL. A zero
// timeout leaves deadlines to the caller's context.
func NewHTTPPredictor(baseURL string, timeout time.Duration) *HTTPPredictor {
	return &HTTPPredictor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (h *HTTPPredictor) PredictOne(ctx context.Context, in models.EstimationInput, influence float64) (models.PredictionResult, error) {
	const op = "predict"
	if err := checkInput(in); err != nil {
		return models.PredictionResult{}, err
	}
	out, err := h.post(ctx, op, modelRequest{
		Mode:      ModeSingle,
		Payload:   toPayload(in),
		Influence: formatInfluence(clampInfluence(influence)),
	})
	if err != nil {
		return models.PredictionResult{}, err
	}
	res, err := parseSingle(out)
	if err != nil {
		return models.PredictionResult{}, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return res, nil
}

func (h *HTTPPredictor) PredictBatch(ctx context.Context, ins []models.EstimationInput, influence float64) ([]models.PredictionOutcome, error) {
	const op = "predict batch"
	if err := checkInputs(ins); err != nil {
		return nil, err
	}
	payload := make([]storyPayload, len(ins))
	for i, in := range ins {
		payload[i] = toPayload(in)
	}
	out, err := h.post(ctx, op, modelRequest{
		Mode:      ModeBatch,
		Payload:   payload,
		Influence: formatInfluence(clampInfluence(influence)),
	})
	if err != nil {
		return nil, err
	}
	outcomes, err := parseBatch(out, len(ins))
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return outcomes, nil
}

func (h *HTTPPredictor) Validate(ctx context.Context, testDataPath string, influence float64) (json.RawMessage, error) {
	const op = "validate model"
	if err := checkTestDataPath(testDataPath); err != nil {
		return nil, err
	}
	out, err := h.post(ctx, op, modelRequest{
		Mode:      ModeValidate,
		Payload:   testDataPath,
		Influence: formatInfluence(clampInfluence(influence)),
	})
	if err != nil {
		return nil, err
	}
	payload, err := rawPayload(out)
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return payload, nil
}

func (h *HTTPPredictor) FindOptimal(ctx context.Context, testDataPath string, influenceValues []float64) (json.RawMessage, error) {
	const op = "find optimal influence"
	if err := checkTestDataPath(testDataPath); err != nil {
		return nil, err
	}
	req := modelRequest{Mode: ModeFindOptimal, Payload: testDataPath}
	if len(influenceValues) > 0 {
		req.InfluenceValues = joinInfluences(influenceValues)
	}
	out, err := h.post(ctx, op, req)
	if err != nil {
		return nil, err
	}
	payload, err := rawPayload(out)
	if err != nil {
		return nil, models.PredictorFailure(models.ErrPredictorError, op, err)
	}
	return payload, nil
}

// post sends req to /predict and classifies transport failures.
func (h *HTTPPredictor) post(ctx context.Context, op string, req modelRequest) ([]byte, error) {
	if h.client == nil || h.baseURL == "" {
		return nil, &models.EstimationError{Kind: models.ErrPredictorUnavailable, Op: op, Msg: "model service url not configured"}
	}
	body, err := h.client.PostJSON(ctx, h.baseURL+"/predict", req)
	if err == nil {
		return body, nil
	}

	var se *xhttp.StatusError
	if errors.As(err, &se) {
		if msg, ok := statusErrorMessage(se.Body); ok {
			return nil, &models.EstimationError{Kind: models.ErrPredictorError, Op: op, Msg: msg}
		}
		return nil, &models.EstimationError{Kind: models.ErrPredictorUnavailable, Op: op, Err: se}
	}
	return nil, &models.EstimationError{Kind: models.ErrPredictorUnavailable, Op: op, Err: fmt.Errorf("post /predict: %w", err)}
}

// statusErrorMessage finds an error payload in a non-2xx body, whether bare or
// wrapped in the array envelope.
func statusErrorMessage(body []byte) (string, bool) {
	payload, err := unwrapEnvelope(body)
	if err != nil {
		return "", false
	}
	return payloadError(payload)
}
