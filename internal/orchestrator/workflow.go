package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/graph"
	"yqhp/orchestration-engine/pkg/types"
)

const skipReasonStopped = "execution stopped"

// ExecuteWorkflow runs model to completion for run. Node failures are
// reported in the result; an error is returned only when the model cannot be
// started at all.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, run *Run, model *types.FunctionModel) (*types.WorkflowResult, error) {
	return o.executeModel(ctx, run, model, topLevelScope(model, 0), "")
}

func (o *Orchestrator) executeModel(ctx context.Context, run *Run, model *types.FunctionModel, scope modelScope, parentID string) (*types.WorkflowResult, error) {
	if model == nil {
		return nil, &OrchestrationError{Code: ErrCodeInvalidWorkflow, Message: "model is nil"}
	}
	if err := graph.Validate(model); err != nil {
		return nil, &OrchestrationError{Code: ErrCodeInvalidWorkflow, ModelID: model.ID, Message: "invalid workflow", Cause: err}
	}
	if err := o.registerModel(run, model, scope, parentID); err != nil {
		return nil, &OrchestrationError{Code: ErrCodeHierarchy, ModelID: model.ID, Message: "context hierarchy registration failed", Cause: err}
	}

	ctx, span := o.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		attribute.String("execution.id", run.ExecutionID),
		attribute.String("model.id", model.ID),
		attribute.String("model.execution_type", string(model.ExecutionType)),
		attribute.Int("hierarchy.level", scope.level),
	))
	defer span.End()

	x := &modelExecution{
		o:       o,
		run:     run,
		model:   model,
		scope:   scope,
		result:  types.NewWorkflowResult(model.ID),
		outputs: make(map[string]any),
	}
	o.updateContext(run, scope, scope.rootID, map[string]any{"status": string(types.NodeStatusRunning)})

	if model.ExecutionType == types.ExecutionParallel {
		ranks, err := graph.Ranks(model)
		if err != nil {
			return nil, &OrchestrationError{Code: ErrCodeInvalidWorkflow, ModelID: model.ID, Message: "invalid workflow", Cause: err}
		}
		for _, rank := range ranks {
			x.runRank(ctx, rank)
		}
	} else {
		order, err := graph.TopologicalOrder(model)
		if err != nil {
			return nil, &OrchestrationError{Code: ErrCodeInvalidWorkflow, ModelID: model.ID, Message: "invalid workflow", Cause: err}
		}
		for _, id := range order {
			x.step(ctx, id)
		}
	}

	result := x.result
	result.Finish()

	status := types.NodeStatusCompleted
	if !result.Success {
		status = types.NodeStatusFailed
		span.SetStatus(codes.Error, fmt.Sprintf("%d failed nodes", len(result.FailedNodes)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("nodes.completed", len(result.CompletedNodes)),
		attribute.Int("nodes.failed", len(result.FailedNodes)),
		attribute.Int("nodes.skipped", len(result.SkippedNodes)),
		attribute.Bool("cancelled", result.Cancelled),
	)
	o.updateContext(run, scope, scope.rootID, map[string]any{
		"status":     string(status),
		"durationMs": result.Duration.Milliseconds(),
	})

	o.log.Info("model execution finished",
		zap.String("execution_id", run.ExecutionID),
		zap.String("model_id", model.ID),
		zap.Int("level", scope.level),
		zap.Bool("success", result.Success),
		zap.Bool("cancelled", result.Cancelled),
		zap.Int("completed", len(result.CompletedNodes)),
		zap.Int("failed", len(result.FailedNodes)),
		zap.Int("skipped", len(result.SkippedNodes)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// registerModel (re)builds the hierarchy entries for a model: the model node,
// its containers one level below and their actions two levels below.
func (o *Orchestrator) registerModel(run *Run, model *types.FunctionModel, scope modelScope, parentID string) error {
	h := run.Hierarchy
	if err := h.RegisterNode(scope.rootID, "function_model", parentID, map[string]any{
		"modelId": model.ID,
		"name":    model.Name,
		"version": model.Version,
		"status":  string(types.NodeStatusPending),
	}, scope.level); err != nil {
		return err
	}
	for _, n := range model.Nodes {
		if err := h.RegisterNode(scope.id(n.ID), "container:"+string(n.Kind), scope.rootID, map[string]any{
			"kind":          string(n.Kind),
			"executionType": string(n.ExecutionType),
			"status":        string(types.NodeStatusPending),
		}, scope.containerLevel()); err != nil {
			return err
		}
		run.states.set(scope.id(n.ID), types.NodeStatusPending)
	}
	for _, a := range model.Actions {
		if err := h.RegisterNode(scope.id(a.ID), "action:"+string(a.Type), scope.id(a.ParentNodeID), map[string]any{
			"type":   string(a.Type),
			"status": string(types.NodeStatusPending),
		}, scope.actionLevel()); err != nil {
			return err
		}
	}
	return nil
}

// updateContext writes bookkeeping into a node context as the model node,
// which is an ancestor of every container and action it owns.
func (o *Orchestrator) updateContext(run *Run, scope modelScope, targetID string, data map[string]any) {
	if err := run.Hierarchy.UpdateNodeContext(scope.rootID, targetID, data); err != nil {
		o.log.Warn("context update failed",
			zap.String("execution_id", run.ExecutionID),
			zap.String("node_id", targetID),
			zap.Error(err))
	}
}

// modelExecution is the mutable state of one model run.
type modelExecution struct {
	o     *Orchestrator
	run   *Run
	model *types.FunctionModel
	scope modelScope

	mu      sync.Mutex
	result  *types.WorkflowResult
	outputs map[string]any
}

// runRank runs independent containers of one rank concurrently and joins them.
func (x *modelExecution) runRank(ctx context.Context, rank []string) {
	if len(rank) == 1 {
		x.step(ctx, rank[0])
		return
	}
	sem := make(chan struct{}, x.o.maxConcurrent)
	var wg sync.WaitGroup
	for _, id := range rank {
		wg.Add(1)
		sem <- struct{}{}
		go func(nodeID string) {
			defer wg.Done()
			defer func() { <-sem }()
			x.step(ctx, nodeID)
		}(id)
	}
	wg.Wait()
}

// step moves one container through pending → ready → running → terminal.
func (x *modelExecution) step(ctx context.Context, nodeID string) {
	node, _ := x.model.Node(nodeID)

	if err := x.run.Control.Gate(ctx); err != nil {
		reason := skipReasonStopped
		if !errors.Is(err, ErrStopped) {
			reason = "execution context ended: " + err.Error()
		}
		x.mu.Lock()
		x.result.Cancelled = true
		x.mu.Unlock()
		x.skip(node, reason)
		return
	}
	if reason := x.blockedBy(node); reason != "" {
		x.skip(node, reason)
		return
	}

	x.run.states.set(x.scope.id(node.ID), types.NodeStatusReady)
	outcome := x.o.executeNode(ctx, x.run, x.model, node, x.scope, x.inputsFor(node))
	x.record(node, outcome)
}

// blockedBy returns a skip reason when a dependency did not complete.
func (x *modelExecution) blockedBy(node *types.ContainerNode) string {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, dep := range node.Dependencies {
		nr, ok := x.result.NodeResults[dep]
		if !ok {
			return fmt.Sprintf("dependency %s did not run", dep)
		}
		if nr.Status != types.NodeStatusCompleted {
			return fmt.Sprintf("dependency %s %s", dep, nr.Status)
		}
	}
	return ""
}

func (x *modelExecution) inputsFor(node *types.ContainerNode) map[string]any {
	x.mu.Lock()
	defer x.mu.Unlock()
	inputs := make(map[string]any)
	if node.Kind == types.NodeKindInput {
		for k, v := range x.run.Inputs {
			inputs[k] = v
		}
	}
	for _, dep := range node.Dependencies {
		if out, ok := x.outputs[dep]; ok {
			inputs[dep] = out
		}
	}
	return inputs
}

func (x *modelExecution) skip(node *types.ContainerNode, reason string) {
	hid := x.scope.id(node.ID)
	x.run.states.set(hid, types.NodeStatusSkipped)
	x.o.updateContext(x.run, x.scope, hid, map[string]any{
		"status":     string(types.NodeStatusSkipped),
		"skipReason": reason,
	})
	x.run.publish(events.Event{
		Type:        events.NodeExecutionSkipped,
		AggregateID: hid,
		ModelID:     x.model.ID,
		NodeID:      hid,
		Data:        map[string]any{"reason": reason},
	})

	x.mu.Lock()
	x.result.Record(types.NewSkippedNodeResult(node.ID, reason))
	x.mu.Unlock()
}

func (x *modelExecution) record(node *types.ContainerNode, outcome *nodeOutcome) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.result.Record(outcome.result)
	x.result.Errors = append(x.result.Errors, outcome.errors...)
	if outcome.result.Status == types.NodeStatusCompleted {
		x.outputs[node.ID] = outcome.output
		if node.Kind == types.NodeKindOutput {
			x.result.Outputs[node.ID] = outcome.output
		}
	}
}

func newExecutionError(nodeID, actionID, code, message string) types.ExecutionError {
	return types.ExecutionError{
		NodeID:    nodeID,
		ActionID:  actionID,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}
