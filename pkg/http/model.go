package http

// APIResponse is the envelope every endpoint answers with. Data holds the
// payload on success, []ValidationError on a 400 from binding and []*AppError
// on other failures.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"stories[0].title"`
	Message string                 `json:"message,omitempty" example:"stories[0].title is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse represents a list response.
type ListDataResponse struct {
	Results int         `json:"results"`
	Rows    interface{} `json:"rows"`
}
