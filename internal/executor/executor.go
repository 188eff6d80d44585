// Package executor runs one action node to a terminal outcome. Action types
// are dispatched through a Registry of Handlers; the Service applies the
// action's retry policy and reports lifecycle events.
package executor

import (
	"context"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/metrics"
	"yqhp/orchestration-engine/pkg/types"
)

// Handler executes one action type.
type Handler interface {
	// Type returns the action type the handler serves.
	Type() types.ActionType

	// Execute runs one attempt and returns the action output.
	Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error)
}

// NestedRunner runs an embedded function model one hierarchy level deeper.
type NestedRunner func(ctx context.Context, ref *types.NestedModelRef) (*types.WorkflowResult, error)

// ActionContext holds runtime state for one action execution.
type ActionContext struct {
	ExecutionID string
	ModelID     string
	UserID      string
	NodeID      string

	// Level is the hierarchy level of the action node.
	Level int

	// Attempt is the 1-based attempt number, set by the Service.
	Attempt int

	// Inputs holds outputs of completed upstream containers keyed by node id.
	Inputs map[string]any

	Publisher events.Publisher
	Latency   *metrics.LatencyRecorder
	Nested    NestedRunner
}

func (c *ActionContext) publish(e events.Event) {
	if c == nil || c.Publisher == nil {
		return
	}
	e.ExecutionID = c.ExecutionID
	e.ModelID = c.ModelID
	e.UserID = c.UserID
	c.Publisher.Publish(e)
}
