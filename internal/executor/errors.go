package executor

import (
	"errors"
	"fmt"
	"time"
)

// ExecutorError represents an error during action execution.
type ExecutorError struct {
	Code     ErrorCode
	Message  string
	ActionID string
	Cause    error
}

// ErrorCode represents the type of executor error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates no handler is registered for the action type.
	ErrCodeNotFound ErrorCode = "HANDLER_NOT_FOUND"
	// ErrCodeExecution indicates the handler ran and failed.
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
	// ErrCodeTimeout indicates the handler exceeded its time budget.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"
	// ErrCodeConfig indicates the action payload is invalid. Never retried.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
	// ErrCodePanic indicates the handler panicked.
	ErrCodePanic ErrorCode = "HANDLER_PANIC"
	// ErrCodeNestedFailed indicates a nested model finished with failed nodes.
	// Its actions already exhausted their own retries, so it is never retried.
	ErrCodeNestedFailed ErrorCode = "NESTED_MODEL_FAILED"
)

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// NewHandlerNotFoundError creates an error for a missing handler.
func NewHandlerNotFoundError(actionType string) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("no handler registered for action type: %s", actionType),
	}
}

// NewExecutionError creates an error for handler failures.
func NewExecutionError(actionID, message string, cause error) *ExecutorError {
	return &ExecutorError{Code: ErrCodeExecution, Message: message, ActionID: actionID, Cause: cause}
}

// NewTimeoutError creates an error for timeout.
func NewTimeoutError(actionID string, timeout time.Duration) *ExecutorError {
	return &ExecutorError{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("action timed out after %v", timeout),
		ActionID: actionID,
	}
}

// NewConfigError creates an error for invalid action payloads.
func NewConfigError(actionID, message string) *ExecutorError {
	return &ExecutorError{Code: ErrCodeConfig, Message: message, ActionID: actionID}
}

// CodeOf returns the ErrorCode carried by err, or "".
func CodeOf(err error) ErrorCode {
	var execErr *ExecutorError
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	return ""
}

// IsNotFoundError checks if the error is a handler not found error.
func IsNotFoundError(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsTimeoutError checks if the error is a timeout error.
func IsTimeoutError(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsConfigError checks if the error is a configuration error.
func IsConfigError(err error) bool {
	return CodeOf(err) == ErrCodeConfig
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodeConfig, ErrCodeNestedFailed:
		return false
	}
	return true
}
