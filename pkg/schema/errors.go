package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// RelayError is the structured error type returned by relaysim components.
type RelayError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StageID string         `json:"stage_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RelayError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.StageID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RelayError.
func NewError(code, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

// NewErrorf creates a new RelayError with a formatted message.
func NewErrorf(code, format string, args ...any) *RelayError {
	return &RelayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches a stage ID to the error.
func (e *RelayError) WithStage(stageID string) *RelayError {
	e.StageID = stageID
	return e
}

// WithCause attaches an underlying cause.
func (e *RelayError) WithCause(err error) *RelayError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RelayError) WithDetails(details map[string]any) *RelayError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first RelayError in err's chain, or "".
func CodeOf(err error) string {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
