package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/pkg/types"
)

// executeNested runs the model referenced by ref under the hierarchy node
// hostID, one level deeper, in the same run and hierarchy. Errors are
// executor errors that are never retried.
func (o *Orchestrator) executeNested(ctx context.Context, run *Run, hostID string, hostLevel, depth int, ref *types.NestedModelRef) (*types.WorkflowResult, error) {
	model, err := o.resolveNested(ctx, ref)
	if err != nil {
		return nil, nestedError(hostID, err)
	}

	scope := nestedScope(hostID, hostLevel, depth+1, model)
	deepest := scope.containerLevel()
	if len(model.Actions) > 0 {
		deepest = scope.actionLevel()
	}
	if deepest > run.Hierarchy.MaxDepth() {
		return nil, nestedError(hostID, &OrchestrationError{
			Code:    ErrCodeDepthExceeded,
			ModelID: model.ID,
			Message: fmt.Sprintf("hierarchy depth exceeded: nested model needs level %d, max is %d", deepest, run.Hierarchy.MaxDepth()),
		})
	}

	run.publish(events.Event{
		Type:        events.NestedModelStarted,
		AggregateID: scope.rootID,
		ModelID:     model.ID,
		NodeID:      hostID,
		Data: map[string]any{
			"hostNodeId":     hostID,
			"nestedModelId":  model.ID,
			"hierarchyLevel": scope.level,
			"depth":          scope.depth,
		},
	})
	o.log.Debug("entering nested model",
		zap.String("execution_id", run.ExecutionID),
		zap.String("host_id", hostID),
		zap.String("model_id", model.ID),
		zap.Int("level", scope.level))

	result, err := o.executeModel(ctx, run, model, scope, hostID)

	data := map[string]any{"hostNodeId": hostID, "nestedModelId": model.ID, "success": false}
	if result != nil {
		data["success"] = result.Success
		data["completedNodes"] = len(result.CompletedNodes)
		data["failedNodes"] = len(result.FailedNodes)
		data["skippedNodes"] = len(result.SkippedNodes)
		data["durationMs"] = result.Duration.Milliseconds()
	}
	if err != nil {
		data["error"] = err.Error()
	}
	run.publish(events.Event{
		Type:        events.NestedModelCompleted,
		AggregateID: scope.rootID,
		ModelID:     model.ID,
		NodeID:      hostID,
		Data:        data,
	})

	if err != nil {
		return nil, nestedError(hostID, err)
	}
	return result, nil
}

func (o *Orchestrator) resolveNested(ctx context.Context, ref *types.NestedModelRef) (*types.FunctionModel, error) {
	if ref == nil {
		return nil, &OrchestrationError{Code: ErrCodeModelNotFound, Message: "nested model reference is empty"}
	}
	if ref.Model != nil {
		return ref.Model, nil
	}
	if ref.ModelID == "" {
		return nil, &OrchestrationError{Code: ErrCodeModelNotFound, Message: "nested model reference is empty"}
	}
	if o.loader == nil {
		return nil, &OrchestrationError{Code: ErrCodeModelNotFound, ModelID: ref.ModelID, Message: "no model loader configured"}
	}
	model, err := o.loader.LoadModel(ctx, ref.ModelID)
	if err != nil {
		return nil, &OrchestrationError{Code: ErrCodeModelNotFound, ModelID: ref.ModelID, Message: "nested model not found", Cause: err}
	}
	return model, nil
}

func nestedError(hostID string, cause error) error {
	return &executor.ExecutorError{
		Code:     executor.ErrCodeNestedFailed,
		Message:  "nested model could not run",
		ActionID: hostID,
		Cause:    cause,
	}
}
