package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/graph"
	"yqhp/orchestration-engine/pkg/types"
)

// nodeOutcome is what a container run hands back to the workflow layer.
type nodeOutcome struct {
	result *types.NodeResult
	output map[string]any
	errors []types.ExecutionError
}

// executeNode runs every action of one container according to its
// execution type and aggregates the outcome.
func (o *Orchestrator) executeNode(ctx context.Context, run *Run, model *types.FunctionModel, node *types.ContainerNode, scope modelScope, inputs map[string]any) *nodeOutcome {
	hid := scope.id(node.ID)
	actions := model.ActionsFor(node.ID)
	mode := node.ExecutionType
	if mode == "" {
		mode = types.ExecutionSequential
	}

	ctx, span := o.tracer.Start(ctx, "node.Execute", trace.WithAttributes(
		attribute.String("execution.id", run.ExecutionID),
		attribute.String("node.id", hid),
		attribute.String("node.kind", string(node.Kind)),
		attribute.String("node.execution_type", string(mode)),
		attribute.Int("node.actions", len(actions)),
	))
	defer span.End()

	run.states.set(hid, types.NodeStatusRunning)
	o.updateContext(run, scope, hid, map[string]any{"status": string(types.NodeStatusRunning)})
	run.publish(events.Event{
		Type:        events.NodeExecutionStarted,
		AggregateID: hid,
		ModelID:     model.ID,
		NodeID:      hid,
		Data: map[string]any{
			"kind":          string(node.Kind),
			"executionType": string(mode),
			"actionCount":   len(actions),
		},
	})

	out := &nodeOutcome{result: types.NewNodeResult(node.ID), output: make(map[string]any)}
	nr := out.result
	if node.Kind == types.NodeKindInput && len(actions) == 0 {
		for k, v := range run.Inputs {
			out.output[k] = v
		}
	}

	nestedFailed := false
	if node.NestedModel != nil {
		nested, err := o.executeNested(ctx, run, hid, scope.containerLevel(), scope.depth, node.NestedModel)
		if nested != nil {
			nr.Nested = append(nr.Nested, nested)
			out.errors = append(out.errors, foldNestedErrors(hid, nested)...)
			for k, v := range nested.Outputs {
				out.output[k] = v
			}
		}
		if err != nil || nested == nil || !nested.Success {
			nestedFailed = true
			msg := "nested model has failed nodes"
			code := string(executor.ErrCodeNestedFailed)
			if err != nil {
				msg = err.Error()
				if c := CodeOf(err); c != "" {
					code = string(c)
				}
			}
			nr.Error = msg
			out.errors = append(out.errors, newExecutionError(node.ID, "", code, msg))
		}
	}

	continueOnError := o.continueOnError || node.ContinueOnError
	var results []*types.ActionResult
	switch {
	case nestedFailed && !continueOnError:
		for _, a := range actions {
			nr.SkippedActions = append(nr.SkippedActions, a.ID)
		}
	case mode == types.ExecutionParallel:
		results = o.runParallel(ctx, run, model, scope, actions, inputs)
	default:
		results = o.runSequential(ctx, run, model, scope, actions, inputs, continueOnError, nr)
	}

	for _, r := range results {
		if r.IsSuccess() {
			nr.CompletedActions = append(nr.CompletedActions, r.ActionID)
			out.output[r.ActionID] = r.Output
		} else {
			nr.FailedActions = append(nr.FailedActions, r.ActionID)
			code := string(executor.CodeOf(r.Error))
			if code == "" {
				code = string(executor.ErrCodeExecution)
			}
			out.errors = append(out.errors, newExecutionError(node.ID, r.ActionID, code, r.ErrorMessage()))
			if nr.Error == "" {
				nr.Error = r.ErrorMessage()
			}
		}
		if r.Nested != nil {
			nr.Nested = append(nr.Nested, r.Nested)
			out.errors = append(out.errors, foldNestedErrors(scope.id(r.ActionID), r.Nested)...)
		}
	}

	nr.Status = types.NodeStatusCompleted
	if nestedFailed || len(nr.FailedActions) > 0 {
		nr.Status = types.NodeStatusFailed
	}
	nr.Finish()

	run.states.set(hid, nr.Status)
	o.updateContext(run, scope, hid, map[string]any{
		"status":           string(nr.Status),
		"completedActions": len(nr.CompletedActions),
		"failedActions":    len(nr.FailedActions),
		"error":            nr.Error,
	})

	data := map[string]any{
		"durationMs":       nr.Duration.Milliseconds(),
		"completedActions": nr.CompletedActions,
		"failedActions":    nr.FailedActions,
		"skippedActions":   nr.SkippedActions,
	}
	eventType := events.NodeExecutionCompleted
	if nr.Status == types.NodeStatusFailed {
		// 下游节点都会因依赖失败被跳过
		blocked := graph.Dependents(model, node.ID)
		eventType = events.NodeExecutionFailed
		data["error"] = nr.Error
		data["blockedNodes"] = blocked
		span.SetStatus(codes.Error, nr.Error)
		o.log.Warn("container failed",
			zap.String("execution_id", run.ExecutionID),
			zap.String("node_id", hid),
			zap.Strings("failed_actions", nr.FailedActions),
			zap.Strings("blocked_nodes", blocked),
			zap.String("error", nr.Error))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	run.publish(events.Event{
		Type:        eventType,
		AggregateID: hid,
		ModelID:     model.ID,
		NodeID:      hid,
		Data:        data,
	})
	return out
}

// sortActions orders actions by ascending executionOrder, then descending
// priority, then declaration order.
func sortActions(actions []*types.ActionNode) []*types.ActionNode {
	sorted := append([]*types.ActionNode(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ExecutionOrder != sorted[j].ExecutionOrder {
			return sorted[i].ExecutionOrder < sorted[j].ExecutionOrder
		}
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

func (o *Orchestrator) runSequential(ctx context.Context, run *Run, model *types.FunctionModel, scope modelScope, actions []*types.ActionNode, inputs map[string]any, continueOnError bool, nr *types.NodeResult) []*types.ActionResult {
	sorted := sortActions(actions)
	results := make([]*types.ActionResult, 0, len(sorted))
	for i, a := range sorted {
		r := o.runAction(ctx, run, model, scope, a, inputs)
		results = append(results, r)
		if !r.IsSuccess() && !continueOnError {
			for _, rest := range sorted[i+1:] {
				nr.SkippedActions = append(nr.SkippedActions, rest.ID)
				o.updateContext(run, scope, scope.id(rest.ID), map[string]any{"status": string(types.NodeStatusSkipped)})
			}
			break
		}
	}
	return results
}

// runParallel fans actions out, bounded by maxConcurrent, and waits for all
// of them. Results keep the actions' declaration order.
func (o *Orchestrator) runParallel(ctx context.Context, run *Run, model *types.FunctionModel, scope modelScope, actions []*types.ActionNode, inputs map[string]any) []*types.ActionResult {
	results := make([]*types.ActionResult, len(actions))
	sem := make(chan struct{}, o.maxConcurrent)
	var wg sync.WaitGroup
	for i, a := range actions {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, action *types.ActionNode) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = o.runAction(ctx, run, model, scope, action, inputs)
		}(i, a)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runAction(ctx context.Context, run *Run, model *types.FunctionModel, scope modelScope, action *types.ActionNode, inputs map[string]any) *types.ActionResult {
	hid := scope.id(action.ID)
	ctx, span := o.tracer.Start(ctx, "action.Execute", trace.WithAttributes(
		attribute.String("execution.id", run.ExecutionID),
		attribute.String("action.id", hid),
		attribute.String("action.type", string(action.Type)),
	))
	defer span.End()

	o.updateContext(run, scope, hid, map[string]any{"status": string(types.NodeStatusRunning)})

	actx := &executor.ActionContext{
		ExecutionID: run.ExecutionID,
		ModelID:     model.ID,
		UserID:      run.UserID,
		NodeID:      scope.id(action.ParentNodeID),
		Level:       scope.actionLevel(),
		Inputs:      inputs,
		Publisher:   run.Publisher,
		Latency:     run.Latency,
		Nested: func(ctx context.Context, ref *types.NestedModelRef) (*types.WorkflowResult, error) {
			return o.executeNested(ctx, run, hid, scope.actionLevel(), scope.depth, ref)
		},
	}
	result := o.executor.Execute(ctx, action, actx)

	span.SetAttributes(attribute.Int("action.attempts", result.Attempts))
	update := map[string]any{
		"status":     string(result.Status),
		"attempts":   result.Attempts,
		"durationMs": result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.ErrorMessage())
		update["error"] = result.ErrorMessage()
	}
	o.updateContext(run, scope, hid, update)
	return result
}

// foldNestedErrors rewrites node ids of a nested result's errors into the
// parent's id space.
func foldNestedErrors(hostID string, nested *types.WorkflowResult) []types.ExecutionError {
	prefix := hostID + nestedSeparator + nested.ModelID + nestedSeparator
	out := make([]types.ExecutionError, 0, len(nested.Errors))
	for _, e := range nested.Errors {
		e.NodeID = prefix + e.NodeID
		out = append(out, e)
	}
	return out
}
