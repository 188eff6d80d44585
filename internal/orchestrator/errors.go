package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an orchestration failure.
type ErrorCode string

const (
	// ErrCodeInvalidWorkflow indicates the model failed structural validation.
	ErrCodeInvalidWorkflow ErrorCode = "INVALID_WORKFLOW"
	// ErrCodeDepthExceeded indicates nested models went deeper than the hierarchy allows.
	ErrCodeDepthExceeded ErrorCode = "HIERARCHY_DEPTH_EXCEEDED"
	// ErrCodeModelNotFound indicates a nested model reference could not be loaded.
	ErrCodeModelNotFound ErrorCode = "NESTED_MODEL_NOT_FOUND"
	// ErrCodeHierarchy indicates the context hierarchy rejected a registration.
	ErrCodeHierarchy ErrorCode = "HIERARCHY_ERROR"
)

// OrchestrationError is returned when a model cannot be run at all.
type OrchestrationError struct {
	Code    ErrorCode
	ModelID string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Code, e.Message, e.ModelID, e.Cause)
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.ModelID)
}

// Unwrap returns the underlying error.
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the ErrorCode carried by err, or "".
func CodeOf(err error) ErrorCode {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsDepthExceeded reports whether err is a nesting depth failure.
func IsDepthExceeded(err error) bool {
	return CodeOf(err) == ErrCodeDepthExceeded
}

// IsInvalidWorkflow reports whether err is a structural validation failure.
func IsInvalidWorkflow(err error) bool {
	return CodeOf(err) == ErrCodeInvalidWorkflow
}

// Control errors.
var (
	ErrStopped        = errors.New("execution stopped")
	ErrAlreadyPaused  = errors.New("execution is already paused")
	ErrNotPaused      = errors.New("execution is not paused")
	ErrAlreadyStopped = errors.New("execution is already stopped")
)
