package models

// Requests for the estimation HTTP endpoints and the Kafka request topic.

type EstimateRequest struct {
	Title        string         `json:"title" validate:"required"`
	Description  string         `json:"description"`
	ProjectID    string         `json:"projectId"`
	TeamEstimate OptionalNumber `json:"teamEstimate"`
	DQNInfluence OptionalNumber `json:"dqnInfluence"`
	Persist      *bool          `json:"persist" default:"true"`
}

// Input returns the estimation input carried by the request.
func (r *EstimateRequest) Input() EstimationInput {
	return EstimationInput{
		Title:        r.Title,
		Description:  r.Description,
		ProjectID:    r.ProjectID,
		TeamEstimate: r.TeamEstimate,
	}
}

type BatchEstimateRequest struct {
	Stories      []EstimationInput `json:"stories" validate:"required,min=1"`
	DQNInfluence OptionalNumber    `json:"dqnInfluence"`
	ProjectID    string            `json:"projectId"`
	Persist      *bool             `json:"persist" default:"true"`
}

// Inputs returns the stories with the batch project applied to those lacking one.
func (r *BatchEstimateRequest) Inputs() []EstimationInput {
	return ApplyProject(r.Stories, r.ProjectID)
}

// ApplyProject copies inputs, setting projectID on every item that has none.
func ApplyProject(inputs []EstimationInput, projectID string) []EstimationInput {
	out := make([]EstimationInput, len(inputs))
	copy(out, inputs)
	if projectID == "" {
		return out
	}
	for i := range out {
		if out[i].ProjectID == "" {
			out[i].ProjectID = projectID
		}
	}
	return out
}

type ValidateModelRequest struct {
	TestDataPath string         `json:"testDataPath" validate:"required"`
	DQNInfluence OptionalNumber `json:"dqnInfluence"`
}

type OptimalInfluenceRequest struct {
	TestDataPath    string    `json:"testDataPath" validate:"required"`
	InfluenceValues []float64 `json:"influenceValues" validate:"omitempty,dive,gte=0,lte=1"`
}

type ProjectStoriesRequest struct {
	ProjectID string `param:"projectId" validate:"required"`
}

type UpdateTeamEstimateRequest struct {
	StoryID      string         `json:"storyId" validate:"required"`
	TeamEstimate OptionalNumber `json:"teamEstimate"`
}

type SaveStoryRequest struct {
	Title             string         `json:"title" validate:"required"`
	Description       string         `json:"description"`
	StoryPoint        OptionalNumber `json:"storyPoint"`
	RFPrediction      OptionalNumber `json:"rfPrediction"`
	Confidence        OptionalNumber `json:"confidence"`
	FullAdjustment    OptionalNumber `json:"fullAdjustment"`
	AppliedAdjustment OptionalNumber `json:"appliedAdjustment"`
	DQNInfluence      OptionalNumber `json:"dqnInfluence"`
	TeamEstimate      OptionalNumber `json:"teamEstimate"`
	ProjectID         string         `json:"projectId"`
}

// Input converts the request. An absent influence falls back to
// DefaultInfluence; the other numbers are checked by the estimator.
func (r *SaveStoryRequest) Input() SaveStoryInput {
	return SaveStoryInput{
		Title:             r.Title,
		Description:       r.Description,
		StoryPoint:        r.StoryPoint,
		RFPrediction:      r.RFPrediction,
		Confidence:        r.Confidence,
		FullAdjustment:    r.FullAdjustment,
		AppliedAdjustment: r.AppliedAdjustment,
		DQNInfluence:      NormalizeInfluence(r.DQNInfluence.Ptr()),
		TeamEstimate:      r.TeamEstimate,
		ProjectID:         r.ProjectID,
	}
}

// EstimationRequestMessage is the payload consumed from the requests topic.
type EstimationRequestMessage struct {
	Stories      []EstimationInput `json:"stories"`
	DQNInfluence OptionalNumber    `json:"dqnInfluence"`
	ProjectID    string            `json:"projectId"`
}

// EstimateResponse is the body returned for a single estimation.
type EstimateResponse struct {
	StoryPoint        float64         `json:"storyPoint"`
	RFPrediction      float64         `json:"rfPrediction"`
	Confidence        float64         `json:"confidence"`
	FullAdjustment    float64         `json:"fullAdjustment"`
	AppliedAdjustment float64         `json:"appliedAdjustment"`
	DQNInfluence      float64         `json:"dqnInfluence"`
	Input             EstimationInput `json:"input"`
}

// NewEstimateResponse merges a prediction with the input that produced it.
func NewEstimateResponse(in EstimationInput, r PredictionResult, influence float64) EstimateResponse {
	return EstimateResponse{
		StoryPoint:        r.AdjustedPrediction,
		RFPrediction:      r.RFPrediction,
		Confidence:        r.Confidence,
		FullAdjustment:    r.FullAdjustment,
		AppliedAdjustment: r.AppliedAdjustment,
		DQNInfluence:      influence,
		Input:             in,
	}
}

// BatchItemResponse is one element of a batch estimation response.
type BatchItemResponse struct {
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	TeamEstimate      OptionalNumber `json:"teamEstimate,omitzero"`
	StoryPoint        float64        `json:"storyPoint"`
	RFPrediction      float64        `json:"rfPrediction"`
	Confidence        float64        `json:"confidence"`
	FullAdjustment    float64        `json:"fullAdjustment"`
	AppliedAdjustment float64        `json:"appliedAdjustment"`
	DQNInfluence      float64        `json:"dqnInfluence"`
	ProjectID         string         `json:"projectId,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// NewBatchItemResponse merges input i with result i.
func NewBatchItemResponse(in EstimationInput, r PredictionResult, influence float64) BatchItemResponse {
	return BatchItemResponse{
		Title:             in.Title,
		Description:       in.Description,
		TeamEstimate:      in.TeamEstimate,
		StoryPoint:        r.AdjustedPrediction,
		RFPrediction:      r.RFPrediction,
		Confidence:        r.Confidence,
		FullAdjustment:    r.FullAdjustment,
		AppliedAdjustment: r.AppliedAdjustment,
		DQNInfluence:      influence,
		ProjectID:         in.ProjectID,
		Error:             r.Error,
	}
}
