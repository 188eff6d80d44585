package usecase

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/graph"
	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/types"
	"yqhp/orchestration-engine/pkg/utils"
)

// ExecutionReport is the data of an execute, start or wait call. A dry run
// carries only Estimate.
type ExecutionReport struct {
	ExecutionID string                `json:"executionId,omitempty"`
	ModelID     string                `json:"modelId"`
	Status      types.ExecutionStatus `json:"status,omitempty"`
	DryRun      bool                  `json:"dryRun,omitempty"`
	Estimate    *Estimate             `json:"estimate,omitempty"`
	Execution   *types.Execution      `json:"execution,omitempty"`
	Result      *types.WorkflowResult `json:"result,omitempty"`
	DurationMs  int64                 `json:"durationMs,omitempty"`
}

// execution is the process-local state of one run.
type execution struct {
	id    string
	model *types.FunctionModel
	run   *orchestrator.Run

	mu     sync.Mutex
	entity *types.Execution
	result *types.WorkflowResult
	err    error

	done       chan struct{}
	finishOnce sync.Once
}

// snapshot returns a copy of the execution entity safe to hand out.
func (e *execution) snapshot() *types.Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := *e.entity
	c.CompletedNodes = slices.Clone(e.entity.CompletedNodes)
	c.FailedNodes = slices.Clone(e.entity.FailedNodes)
	c.SkippedNodes = slices.Clone(e.entity.SkippedNodes)
	c.Errors = slices.Clone(e.entity.Errors)
	c.Outputs = maps.Clone(e.entity.Outputs)
	return &c
}

func (e *execution) report() *ExecutionReport {
	snap := e.snapshot()
	e.mu.Lock()
	result := e.result
	e.mu.Unlock()
	return &ExecutionReport{
		ExecutionID: e.id,
		ModelID:     snap.ModelID,
		Status:      snap.Status,
		Execution:   snap,
		Result:      result,
		DurationMs:  snap.Duration().Milliseconds(),
	}
}

// Execute runs a model to completion and returns its final report. A run
// whose nodes failed is still a successful call; the report's status and
// errors tell the caller what happened.
func (s *Service) Execute(ctx context.Context, cmd ExecuteCommand) (res Result[*ExecutionReport]) {
	defer recoverInto(&res, "execute")
	started := s.Start(ctx, cmd)
	if !started.Success || started.Data.DryRun {
		return started
	}
	return s.Wait(ctx, started.Data.ExecutionID)
}

// Start validates the command and launches the run in the background,
// returning as soon as the execution id exists.
func (s *Service) Start(ctx context.Context, cmd ExecuteCommand) (res Result[*ExecutionReport]) {
	defer recoverInto(&res, "start")

	model, err := s.prepare(ctx, &cmd)
	if err != nil {
		return fail[*ExecutionReport](err)
	}
	if cmd.DryRun {
		est, err := s.estimateModel(model)
		if err != nil {
			return fail[*ExecutionReport](newError(KindBusinessRule, MsgInvalidWorkflow, err))
		}
		return ok(&ExecutionReport{ModelID: model.ID, DryRun: true, Estimate: est})
	}

	e := s.launch(ctx, cmd, model)
	return ok(e.report())
}

// Wait blocks until the execution finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, executionID string) (res Result[*ExecutionReport]) {
	defer recoverInto(&res, "wait")
	e, err := s.lookup(executionID)
	if err != nil {
		return fail[*ExecutionReport](err)
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return fail[*ExecutionReport](newError(KindExecution, MsgExecutionIncomplete, ctx.Err()))
	}

	e.mu.Lock()
	runErr := e.err
	e.mu.Unlock()
	if runErr != nil {
		return fail[*ExecutionReport](runErr)
	}
	return ok(e.report())
}

// prepare runs every check that precedes a mutation: command shape, model
// lookup, lifecycle status, structure and permission.
func (s *Service) prepare(ctx context.Context, cmd *ExecuteCommand) (*types.FunctionModel, error) {
	if err := cmd.validate(s.environments); err != nil {
		return nil, err
	}

	model, err := s.models.LoadModel(ctx, cmd.ModelID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, newError(KindNotFound, MsgModelNotFound, err)
		}
		return nil, newError(KindInfrastructure, MsgModelLoadFailed, err)
	}

	switch model.Status {
	case types.ModelStatusDeleted:
		return nil, newError(KindBusinessRule, MsgModelDeleted, nil)
	case types.ModelStatusPublished:
	default:
		return nil, newError(KindBusinessRule, MsgModelNotPublished, nil)
	}
	if err := graph.Validate(model); err != nil {
		return nil, newError(KindBusinessRule, MsgInvalidWorkflow, err)
	}
	if !canExecute(model, cmd.UserID) {
		return nil, newError(KindAuthorization, MsgPermissionDenied, nil)
	}
	return model, nil
}

// launch creates the execution, publishes its control surface and starts
// the run. The run is detached from ctx cancellation; use Stop instead.
func (s *Service) launch(ctx context.Context, cmd ExecuteCommand, model *types.FunctionModel) *execution {
	id := uuid.NewString()
	scoped := events.Scoped{Publisher: s.publisher, Scope: events.Scope{
		ExecutionID: id,
		ModelID:     model.ID,
		UserID:      cmd.UserID,
	}}
	h := hierarchy.NewService(
		hierarchy.WithMaxDepth(s.maxDepth),
		hierarchy.WithEmergencyAccessMax(s.emergencyAccessMax),
		hierarchy.WithPublisher(scoped),
	)
	run := orchestrator.NewRun(id, model.ID, cmd.UserID, h, s.publisher)
	if cmd.Inputs != nil {
		run.Inputs = maps.Clone(cmd.Inputs)
	}

	entity := types.NewExecution(id, model.ID, cmd.UserID, cmd.Environment)
	_ = entity.Transition(types.ExecutionStatusRunning)

	e := &execution{
		id:     id,
		model:  model,
		run:    run,
		entity: entity,
		done:   make(chan struct{}),
	}
	s.track(e)
	s.surfaces.Register(id, s.controlSurface(ctx, e))

	run.Publisher.Publish(events.Event{
		Type:        events.WorkflowExecutionStarted,
		AggregateID: id,
		Data: map[string]any{
			"environment": cmd.Environment,
			"nodeCount":   len(model.Nodes),
			"actionCount": len(model.Actions),
		},
	})
	s.log.Info("execution started",
		zap.String("execution_id", id),
		zap.String("model_id", model.ID),
		zap.String("user_id", cmd.UserID),
		zap.String("environment", cmd.Environment))

	runCtx := context.WithoutCancel(ctx)
	utils.SafeGoWithCallback("execution-"+id, func() {
		result, err := s.orch.ExecuteWorkflow(runCtx, run, model)
		s.finish(runCtx, e, result, err)
	}, func(r any) {
		s.finish(runCtx, e, nil, fmt.Errorf("execution panic: %v", r))
	})
	return e
}

// finish applies the outcome, publishes the terminal event and persists the
// execution. Only the first call per execution has any effect.
func (s *Service) finish(ctx context.Context, e *execution, result *types.WorkflowResult, runErr error) {
	e.finishOnce.Do(func() { s.complete(ctx, e, result, runErr) })
}

func (s *Service) complete(ctx context.Context, e *execution, result *types.WorkflowResult, runErr error) {
	e.mu.Lock()
	if e.entity.Status == types.ExecutionStatusPaused {
		_ = e.entity.Transition(types.ExecutionStatusRunning)
	}
	final := types.ExecutionStatusFailed
	eventType := events.WorkflowExecutionFailed
	switch {
	case runErr != nil:
		e.err = classifyRunError(runErr)
		e.entity.Errors = append(e.entity.Errors, types.ExecutionError{
			Code:      string(KindOf(e.err)),
			Message:   runErr.Error(),
			Timestamp: time.Now(),
		})
	case result.Cancelled:
		final = types.ExecutionStatusCancelled
		eventType = events.WorkflowExecutionCancelled
	case result.Success:
		final = types.ExecutionStatusCompleted
		eventType = events.WorkflowExecutionCompleted
	}
	e.entity.ApplyResult(result)
	_ = e.entity.Transition(final)
	e.result = result
	snapshot := *e.entity
	e.mu.Unlock()

	data := map[string]any{
		"status":          string(final),
		"success":         final == types.ExecutionStatusCompleted,
		"executionTimeMs": snapshot.Duration().Milliseconds(),
		"completedNodes":  snapshot.CompletedNodes,
		"failedNodes":     snapshot.FailedNodes,
		"skippedNodes":    snapshot.SkippedNodes,
		"errors":          snapshot.Errors,
	}
	e.run.Publisher.Publish(events.Event{Type: eventType, AggregateID: e.id, Data: data})

	if err := s.executions.SaveExecutionResult(ctx, e.snapshot()); err != nil {
		s.log.Error("save execution result failed", zap.String("execution_id", e.id), zap.Error(err))
		e.mu.Lock()
		if e.err == nil {
			e.err = newError(KindInfrastructure, "Failed to save execution result", err)
		}
		e.mu.Unlock()
	}

	s.log.Info("execution finished",
		zap.String("execution_id", e.id),
		zap.String("status", string(final)),
		zap.Int("failed_nodes", len(snapshot.FailedNodes)),
		zap.Duration("duration", snapshot.Duration()))

	s.retire(e.id)
	close(e.done)
}

// classifyRunError maps an orchestration fault onto the use-case taxonomy.
func classifyRunError(err error) error {
	switch {
	case orchestrator.IsDepthExceeded(err):
		return newError(KindBusinessRule, "Hierarchy depth exceeded", err)
	case orchestrator.IsInvalidWorkflow(err):
		return newError(KindBusinessRule, MsgInvalidWorkflow, err)
	case hierarchy.CodeOf(err) != "":
		return newError(KindBusinessRule, "Hierarchy error: "+string(hierarchy.CodeOf(err)), err)
	}
	return newError(KindExecution, "Execution failed", err)
}

// controlSurface exposes the execution to the REST and CLI layers.
func (s *Service) controlSurface(ctx context.Context, e *execution) *controlsurface.ControlSurface {
	return &controlsurface.ControlSurface{
		RunCtx:          ctx,
		GetStatus:       func() *controlsurface.Status { return s.status(e) },
		PauseExecution:  func() error { return s.pause(e) },
		ResumeExecution: func() error { return s.resume(e) },
		StopExecution:   func() error { return s.stop(e) },
		Done:            e.done,
	}
}

func (s *Service) status(e *execution) *controlsurface.Status {
	snap := e.snapshot()
	st := &controlsurface.Status{
		ExecutionID:    e.id,
		ModelID:        snap.ModelID,
		Status:         snap.Status,
		Paused:         e.run.Control.IsPaused(),
		CompletedNodes: snap.CompletedNodes,
		FailedNodes:    snap.FailedNodes,
		SkippedNodes:   snap.SkippedNodes,
		NodeStates:     e.run.NodeStates(),
		Errors:         snap.Errors,
		DurationMs:     snap.Duration().Milliseconds(),
	}
	if !snap.Status.IsTerminal() {
		st.CompletedNodes, st.FailedNodes, st.SkippedNodes = nil, nil, nil
		for _, id := range e.model.NodeIDs() {
			switch st.NodeStates[id] {
			case types.NodeStatusCompleted:
				st.CompletedNodes = append(st.CompletedNodes, id)
			case types.NodeStatusFailed:
				st.FailedNodes = append(st.FailedNodes, id)
			case types.NodeStatusSkipped:
				st.SkippedNodes = append(st.SkippedNodes, id)
			}
		}
		for _, id := range e.run.RunningNodes() {
			if !strings.Contains(id, "::") {
				st.CurrentNodes = append(st.CurrentNodes, id)
			}
		}
		slices.Sort(st.CurrentNodes)
	}
	if e.run.Latency != nil {
		st.Latency = e.run.Latency.Overall()
	}
	return st
}
