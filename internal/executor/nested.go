package executor

import (
	"context"
	"time"

	"yqhp/orchestration-engine/pkg/types"
)

// NestedModelHandler delegates to the fractal orchestrator through
// ActionContext.Nested. A nested run with failed nodes fails the attempt and
// still returns the nested result so it can be folded into the parent.
type NestedModelHandler struct{}

// Type implements Handler.
func (NestedModelHandler) Type() types.ActionType {
	return types.ActionNestedModel
}

// Execute implements Handler.
func (NestedModelHandler) Execute(ctx context.Context, action *types.ActionNode, actx *ActionContext) (any, error) {
	if action.NestedModel == nil || (action.NestedModel.Model == nil && action.NestedModel.ModelID == "") {
		return nil, NewConfigError(action.ID, "nested_model requires a nested model reference")
	}
	if actx == nil || actx.Nested == nil {
		return nil, NewConfigError(action.ID, "nested model execution is not available here")
	}

	result, err := actx.Nested(ctx, action.NestedModel)
	if err != nil {
		return result, err
	}
	if result == nil || !result.Success {
		return result, &ExecutorError{Code: ErrCodeNestedFailed, Message: "nested model has failed nodes", ActionID: action.ID}
	}
	return result, nil
}

// DefaultRegistry registers every built-in handler.
func DefaultRegistry(kb KnowledgeBase, externalTimeout time.Duration) *Registry {
	r := NewRegistry()
	r.MustRegister(NewExternalCallHandler(externalTimeout))
	r.MustRegister(NewKnowledgeLookupHandler(kb))
	r.MustRegister(NewScriptHandler(0))
	r.MustRegister(NestedModelHandler{})
	return r
}
