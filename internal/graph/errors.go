package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a structural problem in a function model.
type ErrorCode string

const (
	ErrCodeInvalidModel      ErrorCode = "INVALID_MODEL"
	ErrCodeDuplicateID       ErrorCode = "DUPLICATE_ID"
	ErrCodeMissingBoundary   ErrorCode = "MISSING_BOUNDARY_NODE"
	ErrCodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	ErrCodeSelfDependency    ErrorCode = "SELF_DEPENDENCY"
	ErrCodeOrphanAction      ErrorCode = "ORPHAN_ACTION"
	ErrCodeInvalidKind       ErrorCode = "INVALID_NODE_KIND"
	ErrCodeCycleDetected     ErrorCode = "CYCLE_DETECTED"
)

// GraphError is one structural problem.
type GraphError struct {
	Code    ErrorCode
	NodeID  string
	Message string
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ValidationErrors collects every problem found in a model.
type ValidationErrors []*GraphError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid workflow: " + strings.Join(msgs, "; ")
}

// Has reports whether any collected error carries the code.
func (e ValidationErrors) Has(code ErrorCode) bool {
	for _, err := range e {
		if err.Code == code {
			return true
		}
	}
	return false
}

// IsCycleError checks if err reports a dependency cycle.
func IsCycleError(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeCycleDetected
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve.Has(ErrCodeCycleDetected)
	}
	return false
}
