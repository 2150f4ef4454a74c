package api

import (
	"errors"

	"StoryRisk/internal/domain/models"
	xhttp "StoryRisk/pkg/http"
)

// appError maps a domain error onto its transport form.
func appError(err error) *xhttp.AppError {
	var ee *models.EstimationError
	msg := err.Error()
	field := ""
	if errors.As(err, &ee) {
		field = ee.Field
		if ee.Msg != "" && ee.Op == "" {
			msg = ee.Msg
		}
	}

	var ae *xhttp.AppError
	switch models.KindOf(err) {
	case models.ErrValidation:
		ae = xhttp.BadRequestError(field, msg).WithCode("ERR_VALIDATION")
	case models.ErrNotFound:
		ae = xhttp.NotFoundError(msg)
	case models.ErrPredictorUnavailable:
		ae = xhttp.ServiceUnavailableError(msg).WithCode("ERR_PREDICTOR_UNAVAILABLE")
	case models.ErrPredictorError:
		ae = xhttp.BadGatewayError(msg).WithCode("ERR_PREDICTOR")
	case models.ErrPredictorEmptyResult:
		ae = xhttp.BadGatewayError(msg).WithCode("ERR_PREDICTOR_EMPTY")
	case models.ErrStore:
		ae = xhttp.InternalError("failed to access story store").WithCode("ERR_STORE")
	default:
		ae = xhttp.InternalError("Something went wrong")
	}
	return ae.WithError(err)
}
