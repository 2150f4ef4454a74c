package predictor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"StoryRisk/internal/domain/models"
)

const noPrediction = "No prediction available"

// storyPayload is what the model receives for each story.
type storyPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// rawPrediction is one model output element. Fields are pointers so a missing
// key can be told apart from zero.
type rawPrediction struct {
	Error              json.RawMessage `json:"error"`
	RFPrediction       *flexFloat      `json:"rf_prediction"`
	AdjustedPrediction *flexFloat      `json:"adjusted_prediction"`
	Confidence         *flexFloat      `json:"confidence"`
	FullAdjustment     *flexFloat      `json:"full_adjustment"`
	AppliedAdjustment  *flexFloat      `json:"applied_adjustment"`
}

// flexFloat accepts 1.5, "1.5" and the quoted non-finite tokens produced by
// sanitizeJSON.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(n)
	return nil
}

// sanitizeJSON quotes bare NaN, Infinity and -Infinity tokens, which Python's
// json module emits but encoding/json rejects.
func sanitizeJSON(b []byte) []byte {
	if !bytes.Contains(b, []byte("NaN")) && !bytes.Contains(b, []byte("Infinity")) {
		return b
	}
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		for _, tok := range []string{"-Infinity", "Infinity", "NaN"} {
			if bytes.HasPrefix(b[i:], []byte(tok)) {
				out.WriteString(strconv.Quote(tok))
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

// unwrapEnvelope returns the first element of the model's output array. A
// non-array value is taken as the payload itself.
func unwrapEnvelope(raw []byte) (json.RawMessage, error) {
	raw = bytes.TrimSpace(sanitizeJSON(raw))
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, models.ErrPredictorEmptyResult
	}
	if raw[0] != '[' {
		return raw, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &models.EstimationError{Kind: models.ErrPredictorError, Msg: "malformed output", Err: err}
	}
	if len(items) == 0 {
		return nil, models.ErrPredictorEmptyResult
	}
	first := bytes.TrimSpace(items[0])
	if len(first) == 0 || bytes.Equal(first, []byte("null")) {
		return nil, models.ErrPredictorEmptyResult
	}
	return first, nil
}

// payloadError extracts the message of an {"error": ...} payload.
func payloadError(payload json.RawMessage) (string, bool) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return "", false
	}
	var obj struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", false
	}
	return errorText(obj.Error)
}

func errorText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}

func predictorError(msg string) error {
	return &models.EstimationError{Kind: models.ErrPredictorError, Msg: msg}
}

// normalizeOne turns one output element into a PredictionResult.
func normalizeOne(raw json.RawMessage) (models.PredictionResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.PredictionResult{}, models.ErrPredictorEmptyResult
	}
	var p rawPrediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.PredictionResult{}, &models.EstimationError{Kind: models.ErrPredictorError, Msg: "unparseable prediction", Err: err}
	}
	if msg, ok := errorText(p.Error); ok {
		return models.PredictionResult{}, predictorError(msg)
	}
	if p.RFPrediction == nil || p.AdjustedPrediction == nil {
		return models.PredictionResult{}, predictorError("prediction is missing rf_prediction or adjusted_prediction")
	}

	res := models.PredictionResult{
		RFPrediction:       float64(*p.RFPrediction),
		AdjustedPrediction: float64(*p.AdjustedPrediction),
		Confidence:         value(p.Confidence),
		FullAdjustment:     value(p.FullAdjustment),
		AppliedAdjustment:  value(p.AppliedAdjustment),
	}
	for _, v := range []float64{res.RFPrediction, res.AdjustedPrediction, res.Confidence, res.FullAdjustment, res.AppliedAdjustment} {
		if !models.IsFinite(v) {
			return models.PredictionResult{}, predictorError("prediction contains a non-finite value")
		}
	}
	res.Confidence = math.Min(1, math.Max(0, res.Confidence))
	return res, nil
}

func value(f *flexFloat) float64 {
	if f == nil {
		return 0
	}
	return float64(*f)
}

// parseSingle normalizes the model output of a single-story call.
func parseSingle(raw []byte) (models.PredictionResult, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return models.PredictionResult{}, err
	}
	if payload[0] == '[' {
		// A batch-shaped answer to a single request: use its first element.
		payload, err = unwrapEnvelope(payload)
		if err != nil {
			return models.PredictionResult{}, err
		}
	}
	return normalizeOne(payload)
}

// parseBatch normalizes the model output of a batch call into exactly n
// aligned outcomes.
func parseBatch(raw []byte, n int) ([]models.PredictionOutcome, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if msg, ok := payloadError(payload); ok {
		return nil, predictorError(msg)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, &models.EstimationError{Kind: models.ErrPredictorError, Msg: "batch payload is not an array", Err: err}
	}

	out := make([]models.PredictionOutcome, n)
	for i := range out {
		if i >= len(items) {
			out[i] = models.PredictionOutcome{Err: predictorError(noPrediction)}
			continue
		}
		res, err := normalizeOne(items[i])
		if err != nil {
			if errors.Is(err, models.ErrPredictorEmptyResult) {
				err = predictorError(noPrediction)
			}
			out[i] = models.PredictionOutcome{Err: err}
			continue
		}
		r := res
		out[i] = models.PredictionOutcome{Result: &r}
	}
	return out, nil
}

func checkInput(in models.EstimationInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return models.Validationf("title", "title is required")
	}
	return nil
}

// checkInputs rejects a batch before the model is invoked.
func checkInputs(ins []models.EstimationInput) error {
	if len(ins) == 0 {
		return models.Validationf("stories", "stories must be a non-empty array")
	}
	for i, in := range ins {
		if strings.TrimSpace(in.Title) == "" {
			return models.Validationf("stories", "story at index %d is missing a title", i)
		}
	}
	return nil
}

func checkTestDataPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return models.Validationf("testDataPath", "testDataPath is required")
	}
	return nil
}

func toPayload(in models.EstimationInput) storyPayload {
	return storyPayload{Title: strings.TrimSpace(in.Title), Description: in.Description}
}

// clampInfluence keeps the model weight within [0,1].
func clampInfluence(v float64) float64 {
	return models.NormalizeInfluence(&v)
}

func formatInfluence(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinInfluences(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = formatInfluence(v)
	}
	return strings.Join(parts, ",")
}

// rawPayload validates a validate/find-optimal payload and returns it as-is.
func rawPayload(raw []byte) (json.RawMessage, error) {
	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if msg, ok := payloadError(payload); ok {
		return nil, predictorError(msg)
	}
	if !json.Valid(payload) {
		return nil, predictorError("malformed output")
	}
	return payload, nil
}
