package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeFatalStage        = "FATAL_STAGE"
	ErrCodeStageFailed       = "STAGE_FAILED"
	ErrCodeDependencyNotMet  = "DEPENDENCY_NOT_MET"
	ErrCodeContractViolation = "CONTRACT_VIOLATION"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeUnavailable       = "UNAVAILABLE"
)

// ToolkitError is the structured error type shared by every package.
type ToolkitError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Stage   StageName      `json:"stage,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolkitError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ToolkitError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ToolkitError.
func NewError(code, message string) *ToolkitError {
	return &ToolkitError{Code: code, Message: message}
}

// NewErrorf creates a new ToolkitError with a formatted message.
func NewErrorf(code, format string, args ...any) *ToolkitError {
	return &ToolkitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches the stage that produced the error.
func (e *ToolkitError) WithStage(stage StageName) *ToolkitError {
	e.Stage = stage
	return e
}

// WithCause attaches an underlying cause.
func (e *ToolkitError) WithCause(err error) *ToolkitError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ToolkitError) WithDetails(details map[string]any) *ToolkitError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first ToolkitError in err's chain, or "".
func CodeOf(err error) string {
	var te *ToolkitError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsFatal reports whether err halted a run at the underwriting gate.
func IsFatal(err error) bool {
	return CodeOf(err) == ErrCodeFatalStage
}
