package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable wraps every failed or timed-out source fetch.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrEstimateUnavailable wraps every model run that produced no estimate.
	ErrEstimateUnavailable = errors.New("estimate unavailable")
)

// ValidationError reports a malformed or unknown request field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SourceUnavailable wraps cause so that errors.Is(err, ErrSourceUnavailable) holds.
func SourceUnavailable(sourceID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrSourceUnavailable, sourceID)
	}
	return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, sourceID, cause)
}

// EstimateUnavailable wraps a model failure reason.
func EstimateUnavailable(reason string) error {
	return fmt.Errorf("%w: %s", ErrEstimateUnavailable, reason)
}
