package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrPredictorUnavailable = errors.New("predictor unavailable")
	ErrPredictorError       = errors.New("predictor error")
	ErrPredictorEmptyResult = errors.New("predictor returned no result")
	ErrNotFound             = errors.New("not found")
	ErrStore                = errors.New("store error")
	ErrVersionConflict      = errors.New("version conflict")
)

// EstimationError carries the kind of failure, the operation it happened in
// and the underlying cause.
type EstimationError struct {
	Kind  error
	Op    string
	Msg   string
	Field string
	Err   error
}

func (e *EstimationError) Error() string {
	if e == nil {
		return ""
	}
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	switch {
	case e.Msg != "":
		parts = append(parts, e.Msg)
	case e.Err == nil && e.Kind != nil:
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Is matches the kind sentinel.
func (e *EstimationError) Is(target error) bool { return target == e.Kind }

func (e *EstimationError) Unwrap() error { return e.Err }

// Validationf builds a caller-correctable error for field.
func Validationf(field, format string, a ...any) error {
	return &EstimationError{Kind: ErrValidation, Field: field, Msg: fmt.Sprintf(format, a...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, a ...any) error {
	return &EstimationError{Kind: ErrNotFound, Msg: fmt.Sprintf(format, a...)}
}

// PredictorFailure wraps err under kind, keeping an existing kind if err already has one.
func PredictorFailure(kind error, op string, err error) error {
	if k := KindOf(err); k != nil {
		kind = k
	}
	return &EstimationError{Kind: kind, Op: op, Err: err}
}

// StoreFailure wraps a persistence error.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EstimationError{Kind: ErrStore, Op: op, Err: err}
}

var kinds = []error{
	ErrValidation, ErrPredictorUnavailable, ErrPredictorError,
	ErrPredictorEmptyResult, ErrNotFound, ErrStore, ErrVersionConflict,
}

// KindOf returns the kind sentinel of err, or nil.
func KindOf(err error) error {
	var ee *EstimationError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsFinite reports whether v is a usable number.
func IsFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
