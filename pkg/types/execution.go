package types

import (
	"fmt"
	"time"
)

// ExecutionStatus represents the status of an execution.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the execution is created but not started.
	ExecutionStatusPending ExecutionStatus = "pending"
	// ExecutionStatusRunning indicates the execution is running.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusPaused indicates the execution is paused at a node boundary.
	ExecutionStatusPaused ExecutionStatus = "paused"
	// ExecutionStatusCompleted indicates every node completed or was skipped without failures.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates at least one node failed.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusCancelled indicates the execution was stopped.
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// 状态迁移表；任何状态都不能回到 pending
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusFailed, ExecutionStatusCancelled},
	ExecutionStatusRunning: {ExecutionStatusPaused, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled},
	ExecutionStatusPaused:  {ExecutionStatusRunning, ExecutionStatusCancelled, ExecutionStatusFailed},
}

// CanTransition reports whether an execution may move from one status to another.
func CanTransition(from, to ExecutionStatus) bool {
	for _, allowed := range executionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ExecutionError is one error recorded against an execution.
type ExecutionError struct {
	NodeID    string    `json:"nodeId,omitempty"`
	ActionID  string    `json:"actionId,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution is created per run by the use case and never reused.
type Execution struct {
	ID             string           `json:"id"`
	ModelID        string           `json:"modelId"`
	UserID         string           `json:"userId"`
	Environment    string           `json:"environment"`
	Status         ExecutionStatus  `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	StartedAt      *time.Time       `json:"startedAt,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	CompletedNodes []string         `json:"completedNodes"`
	FailedNodes    []string         `json:"failedNodes"`
	SkippedNodes   []string         `json:"skippedNodes"`
	Errors         []ExecutionError `json:"errors,omitempty"`
	Outputs        map[string]any   `json:"outputs,omitempty"`
}

// NewExecution creates a pending execution.
func NewExecution(id, modelID, userID, environment string) *Execution {
	return &Execution{
		ID:             id,
		ModelID:        modelID,
		UserID:         userID,
		Environment:    environment,
		Status:         ExecutionStatusPending,
		CreatedAt:      time.Now(),
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		SkippedNodes:   []string{},
		Outputs:        make(map[string]any),
	}
}

// Transition moves the execution to a new status, enforcing monotonic transitions.
func (e *Execution) Transition(to ExecutionStatus) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("invalid execution transition %s -> %s", e.Status, to)
	}
	now := time.Now()
	if to == ExecutionStatusRunning && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if to.IsTerminal() {
		e.CompletedAt = &now
	}
	e.Status = to
	return nil
}

// ApplyResult copies the aggregate of a workflow run onto the execution.
func (e *Execution) ApplyResult(result *WorkflowResult) {
	if result == nil {
		return
	}
	e.CompletedNodes = append([]string{}, result.CompletedNodes...)
	e.FailedNodes = append([]string{}, result.FailedNodes...)
	e.SkippedNodes = append([]string{}, result.SkippedNodes...)
	e.Errors = append(e.Errors, result.Errors...)
	for k, v := range result.Outputs {
		e.Outputs[k] = v
	}
}

// Duration returns the wall time between start and completion (or now).
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil {
		return 0
	}
	if e.CompletedAt == nil {
		return time.Since(*e.StartedAt)
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}
