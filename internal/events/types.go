package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	WorkflowExecutionStarted   EventType = "WorkflowExecutionStarted"
	WorkflowExecutionCompleted EventType = "WorkflowExecutionCompleted"
	WorkflowExecutionFailed    EventType = "WorkflowExecutionFailed"
	WorkflowExecutionPaused    EventType = "WorkflowExecutionPaused"
	WorkflowExecutionResumed   EventType = "WorkflowExecutionResumed"
	WorkflowExecutionCancelled EventType = "WorkflowExecutionCancelled"

	NodeExecutionStarted   EventType = "NodeExecutionStarted"
	NodeExecutionCompleted EventType = "NodeExecutionCompleted"
	NodeExecutionFailed    EventType = "NodeExecutionFailed"
	NodeExecutionSkipped   EventType = "NodeExecutionSkipped"

	ActionExecutionStarted   EventType = "ActionExecutionStarted"
	ActionExecutionRetrying  EventType = "ActionExecutionRetrying"
	ActionExecutionCompleted EventType = "ActionExecutionCompleted"
	ActionExecutionFailed    EventType = "ActionExecutionFailed"

	NestedModelStarted   EventType = "NestedModelStarted"
	NestedModelCompleted EventType = "NestedModelCompleted"

	ContextNodeRegistered  EventType = "ContextNodeRegistered"
	ContextUpdated         EventType = "ContextUpdated"
	ContextAccessGranted   EventType = "ContextAccessGranted"
	EmergencyAccessGranted EventType = "EmergencyAccessGranted"
)

// Entity returns the audit entity type the event belongs to.
func (t EventType) Entity() string {
	switch t {
	case NodeExecutionStarted, NodeExecutionCompleted, NodeExecutionFailed, NodeExecutionSkipped:
		return "container_node"
	case ActionExecutionStarted, ActionExecutionRetrying, ActionExecutionCompleted, ActionExecutionFailed:
		return "action_node"
	case NestedModelStarted, NestedModelCompleted:
		return "function_model"
	case ContextNodeRegistered, ContextUpdated, ContextAccessGranted, EmergencyAccessGranted:
		return "node_context"
	default:
		return "execution"
	}
}

// Operation returns the audit operation verb for the event.
func (t EventType) Operation() string {
	switch t {
	case WorkflowExecutionStarted, NodeExecutionStarted, ActionExecutionStarted, NestedModelStarted:
		return "start"
	case WorkflowExecutionCompleted, NodeExecutionCompleted, ActionExecutionCompleted, NestedModelCompleted:
		return "complete"
	case WorkflowExecutionFailed, NodeExecutionFailed, ActionExecutionFailed:
		return "fail"
	case WorkflowExecutionPaused:
		return "pause"
	case WorkflowExecutionResumed:
		return "resume"
	case WorkflowExecutionCancelled:
		return "cancel"
	case NodeExecutionSkipped:
		return "skip"
	case ActionExecutionRetrying:
		return "retry"
	case ContextNodeRegistered:
		return "register"
	case ContextUpdated:
		return "update"
	default:
		return "grant"
	}
}

// Event is one immutable lifecycle record.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"eventType"`
	AggregateID string         `json:"aggregateId"`
	ExecutionID string         `json:"executionId,omitempty"`
	ModelID     string         `json:"modelId,omitempty"`
	NodeID      string         `json:"nodeId,omitempty"`
	ActionID    string         `json:"actionId,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"eventData,omitempty"`
}

// New creates an event with a fresh id and timestamp.
func New(t EventType, aggregateID string, data map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		AggregateID: aggregateID,
		Timestamp:   time.Now(),
		Data:        data,
	}
}

// Scope carries the execution identity stamped onto events produced deeper
// in the call stack (executor, orchestrator, hierarchy).
type Scope struct {
	ExecutionID string
	ModelID     string
	UserID      string
}

// Apply copies the scope onto an event, keeping fields the event already set.
func (s Scope) Apply(e Event) Event {
	if e.ExecutionID == "" {
		e.ExecutionID = s.ExecutionID
	}
	if e.ModelID == "" {
		e.ModelID = s.ModelID
	}
	if e.UserID == "" {
		e.UserID = s.UserID
	}
	return e
}
