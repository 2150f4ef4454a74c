package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultInfluence is the adjustment-model weight used when a caller gives none.
const DefaultInfluence = 0.3

// EstimationInput is one work item submitted for estimation.
type EstimationInput struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	ProjectID    string         `json:"projectId,omitempty"`
	TeamEstimate OptionalNumber `json:"teamEstimate,omitzero"`
}

// PredictionResult is the normalized output of the predictor for one input.
// Error is set only on batch placeholders standing in for a failed item.
type PredictionResult struct {
	RFPrediction       float64 `json:"rfPrediction"`
	AdjustedPrediction float64 `json:"adjustedPrediction"`
	Confidence         float64 `json:"confidence"`
	FullAdjustment     float64 `json:"fullAdjustment"`
	AppliedAdjustment  float64 `json:"appliedAdjustment"`
	Error              string  `json:"error,omitempty"`
}

// Failed reports whether r is a batch failure marker.
func (r PredictionResult) Failed() bool { return r.Error != "" }

// FailedPrediction returns the zero-valued placeholder for a failed batch item.
func FailedPrediction(msg string) PredictionResult {
	if msg == "" {
		msg = "No prediction available"
	}
	return PredictionResult{Error: msg}
}

// PredictionOutcome is one aligned slot of a batch prediction.
type PredictionOutcome struct {
	Result *PredictionResult
	Err    error
}

// NormalizeInfluence applies the default and clamps to [0,1].
func NormalizeInfluence(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return DefaultInfluence
	}
	return math.Min(1, math.Max(0, *v))
}

// OptionalNumber is a JSON number that may be absent, null, a numeric string
// or garbage. Decoding never fails; Set and Valid describe what was seen.
type OptionalNumber struct {
	Value float64
	Set   bool // a non-null value was present
	Valid bool // the value parsed as a finite number
}

// Num returns a present OptionalNumber. A non-finite v is kept as present but
// invalid, with Value zeroed.
func Num(v float64) OptionalNumber {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return OptionalNumber{Set: true}
	}
	return OptionalNumber{Value: v, Set: true, Valid: true}
}

// Ptr returns the value when valid, nil otherwise.
func (n OptionalNumber) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// IsZero lets omitzero drop unset numbers.
func (n OptionalNumber) IsZero() bool { return !n.Set }

func (n *OptionalNumber) UnmarshalJSON(b []byte) error {
	*n = OptionalNumber{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	n.Set = true

	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = Num(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*n = Num(f)
		}
	}
	return nil
}

func (n OptionalNumber) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}
