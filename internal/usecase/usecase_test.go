package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/orchestration-engine/internal/audit"
	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/types"
)

const (
	actionOK    types.ActionType = "test_ok"
	actionFail  types.ActionType = "test_fail"
	actionBlock types.ActionType = "test_block"
)

type funcHandler struct {
	t  types.ActionType
	fn func(ctx context.Context, a *types.ActionNode) (any, error)
}

func (h funcHandler) Type() types.ActionType { return h.t }

func (h funcHandler) Execute(ctx context.Context, a *types.ActionNode, _ *executor.ActionContext) (any, error) {
	return h.fn(ctx, a)
}

type harness struct {
	svc        *Service
	store      *store.MemoryStore
	dispatcher *events.Dispatcher
	calls      atomic.Int32
	entered    chan string
	release    chan struct{}
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	executions store.ExecutionRepository
	models     store.ModelRepository
	surfaces   *controlsurface.Registry
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemoryStore(),
		entered: make(chan string, 8),
		release: make(chan struct{}),
	}
	cfg := &harnessConfig{executions: h.store, models: h.store}
	for _, opt := range opts {
		opt(cfg)
	}

	reg := executor.NewRegistry()
	reg.MustRegister(funcHandler{t: actionOK, fn: func(_ context.Context, a *types.ActionNode) (any, error) {
		h.calls.Add(1)
		return a.ID + "-done", nil
	}})
	reg.MustRegister(funcHandler{t: actionFail, fn: func(_ context.Context, a *types.ActionNode) (any, error) {
		h.calls.Add(1)
		return nil, errors.New("always fails")
	}})
	reg.MustRegister(funcHandler{t: actionBlock, fn: func(ctx context.Context, a *types.ActionNode) (any, error) {
		h.calls.Add(1)
		h.entered <- a.ID
		select {
		case <-h.release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})
	exec := executor.NewService(reg, executor.WithSleep(func(context.Context, time.Duration) error { return nil }))

	h.dispatcher = events.NewDispatcher()
	h.dispatcher.Register("audit", audit.NewHandler(h.store))
	ctx, cancel := context.WithCancel(context.Background())
	h.dispatcher.Start(ctx)
	t.Cleanup(func() {
		_ = h.dispatcher.Close(context.Background())
		cancel()
	})

	h.svc = NewService(cfg.models, cfg.executions, orchestrator.New(exec, orchestrator.WithModelLoader(cfg.models)),
		WithPublisher(h.dispatcher),
		WithEnvironments([]string{"development", "production"}),
		WithControlRegistry(cfg.surfaces),
	)
	return h
}

func (h *harness) save(t *testing.T, m *types.FunctionModel) {
	t.Helper()
	require.NoError(t, h.store.SaveModel(context.Background(), m))
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.dispatcher.Flush(ctx))
}

func (h *harness) auditTypes(t *testing.T, executionID string) []string {
	t.Helper()
	h.flush(t)
	entries, err := h.store.ListAuditEntries(context.Background(), executionID)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

// pipelineModel builds Input → Stage → Output owned by alice, executable by bob.
func pipelineModel(stageAction types.ActionType, retry *types.RetryPolicy) *types.FunctionModel {
	return &types.FunctionModel{
		ID:     "pipeline",
		Name:   "pipeline",
		Status: types.ModelStatusPublished,
		Nodes: []*types.ContainerNode{
			{ID: "input", Kind: types.NodeKindInput},
			{ID: "stage", Kind: types.NodeKindStage, Dependencies: []string{"input"}},
			{ID: "output", Kind: types.NodeKindOutput, Dependencies: []string{"stage"}},
		},
		Actions: []*types.ActionNode{
			{ID: "work", ParentNodeID: "stage", Type: stageAction, RetryPolicy: retry},
		},
		Permissions: types.Permissions{Owner: "alice", Executors: []string{"bob"}},
	}
}

func command(userID string) ExecuteCommand {
	return ExecuteCommand{ModelID: "pipeline", UserID: userID, Environment: "development"}
}

func TestExecute_PipelineCompletes(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionOK, nil))

	res := h.svc.Execute(context.Background(), command("alice"))
	require.True(t, res.Success, res.Message)
	report := res.Data
	assert.Equal(t, types.ExecutionStatusCompleted, report.Status)
	assert.Len(t, report.Execution.CompletedNodes, 3)
	assert.Empty(t, report.Execution.FailedNodes)
	assert.True(t, report.Result.Success)

	saved, err := h.store.GetExecution(context.Background(), report.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusCompleted, saved.Status)
	assert.Equal(t, "development", saved.Environment)

	trail := h.auditTypes(t, report.ExecutionID)
	require.NotEmpty(t, trail)
	assert.Equal(t, string(events.WorkflowExecutionStarted), trail[0])
	assert.Equal(t, string(events.WorkflowExecutionCompleted), trail[len(trail)-1])
	assert.Contains(t, trail, string(events.NodeExecutionStarted))
	assert.Contains(t, trail, string(events.ActionExecutionCompleted))
}

func TestExecute_StageFailureIsReportedNotRaised(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionFail, &types.RetryPolicy{MaxRetries: 2}))

	res := h.svc.Execute(context.Background(), command("bob"))
	require.True(t, res.Success, res.Message)
	report := res.Data
	assert.Equal(t, types.ExecutionStatusFailed, report.Status)
	assert.Equal(t, []string{"stage"}, report.Execution.FailedNodes)
	assert.Equal(t, []string{"output"}, report.Execution.SkippedNodes)
	assert.NotEmpty(t, report.Execution.Errors)
	assert.Equal(t, int32(3), h.calls.Load())

	trail := h.auditTypes(t, report.ExecutionID)
	assert.Equal(t, string(events.WorkflowExecutionFailed), trail[len(trail)-1])
}

func TestExecute_DryRunLeavesNoTrace(t *testing.T) {
	for _, action := range []types.ActionType{actionOK, actionFail} {
		t.Run(string(action), func(t *testing.T) {
			h := newHarness(t)
			retry := &types.RetryPolicy{MaxRetries: 2, RetryDelay: 100 * time.Millisecond, BackoffMultiplier: 2}
			h.save(t, pipelineModel(action, retry))

			cmd := command("alice")
			cmd.DryRun = true
			res := h.svc.Execute(context.Background(), cmd)
			require.True(t, res.Success, res.Message)
			require.True(t, res.Data.DryRun)
			assert.Empty(t, res.Data.ExecutionID)

			est := res.Data.Estimate
			require.NotNil(t, est)
			assert.Equal(t, 3, est.NodeCount)
			assert.Equal(t, 1, est.ActionCount)
			assert.Equal(t, 3, est.RankCount)
			assert.Equal(t, 1, est.MaxParallelWidth)
			assert.Equal(t, []string{"input", "stage", "output"}, est.ExecutionOrder)
			assert.Equal(t, 3, est.WorstCaseAttempts)
			assert.Equal(t, int64(300), est.WorstCaseRetryWait)
			assert.Equal(t, []string{string(action)}, est.ActionTypes)
			assert.Empty(t, est.MissingHandlers)

			h.flush(t)
			assert.Zero(t, h.store.AuditCount())
			assert.Zero(t, h.calls.Load())
			assert.Empty(t, h.svc.Controls().IDs())
		})
	}
}

func TestExecute_DryRunReportsMissingHandlers(t *testing.T) {
	h := newHarness(t)
	m := pipelineModel(actionOK, nil)
	m.ExecutionType = types.ExecutionParallel
	m.Nodes = append(m.Nodes, &types.ContainerNode{ID: "side", Kind: types.NodeKindStage, Dependencies: []string{"input"}})
	m.Actions = append(m.Actions, &types.ActionNode{
		ID: "call", ParentNodeID: "side", Type: types.ActionExternalCall,
		NestedModel: &types.NestedModelRef{ModelID: "other"},
	})
	h.save(t, m)

	cmd := command("alice")
	cmd.DryRun = true
	res := h.svc.Start(context.Background(), cmd)
	require.True(t, res.Success, res.Message)
	est := res.Data.Estimate
	assert.Equal(t, 2, est.MaxParallelWidth)
	assert.Equal(t, 1, est.NestedModels)
	assert.Equal(t, []string{"external_call", "test_ok"}, est.ActionTypes)
	assert.Equal(t, []string{"external_call"}, est.MissingHandlers)
}

func TestExecute_RejectedBeforeAnyMutation(t *testing.T) {
	deleted := pipelineModel(actionOK, nil)
	deleted.ID = "deleted"
	deleted.Status = types.ModelStatusDeleted

	draft := pipelineModel(actionOK, nil)
	draft.ID = "draft"
	draft.Status = types.ModelStatusDraft

	cyclic := pipelineModel(actionOK, nil)
	cyclic.ID = "cyclic"
	cyclic.Nodes[1].Dependencies = []string{"input", "output"}

	noOutput := pipelineModel(actionOK, nil)
	noOutput.ID = "no-output"
	noOutput.Nodes = noOutput.Nodes[:2]

	// 动作 id 与容器 id 相同
	clash := pipelineModel(actionOK, nil)
	clash.ID = "clash"
	clash.Actions[0].ID = "output"

	// 模型 id 与容器 id 相同
	stageNamed := pipelineModel(actionOK, nil)
	stageNamed.ID = "stage"

	tests := []struct {
		name    string
		cmd     ExecuteCommand
		kind    ErrorKind
		message string
	}{
		{"missing model id", ExecuteCommand{UserID: "alice"}, KindValidation, "modelId is required"},
		{"missing user id", ExecuteCommand{ModelID: "pipeline"}, KindValidation, "userId is required"},
		{"unknown environment", ExecuteCommand{ModelID: "pipeline", UserID: "alice", Environment: "moon"}, KindValidation, "Unknown environment: moon"},
		{"unknown model", ExecuteCommand{ModelID: "ghost", UserID: "alice"}, KindNotFound, MsgModelNotFound},
		{"deleted model", ExecuteCommand{ModelID: "deleted", UserID: "alice"}, KindBusinessRule, MsgModelDeleted},
		{"draft model", ExecuteCommand{ModelID: "draft", UserID: "alice"}, KindBusinessRule, MsgModelNotPublished},
		{"cycle", ExecuteCommand{ModelID: "cyclic", UserID: "alice"}, KindBusinessRule, MsgInvalidWorkflow},
		{"missing boundary", ExecuteCommand{ModelID: "no-output", UserID: "alice"}, KindBusinessRule, MsgInvalidWorkflow},
		{"action id clashes with container", ExecuteCommand{ModelID: "clash", UserID: "alice"}, KindBusinessRule, MsgInvalidWorkflow},
		{"model id clashes with container", ExecuteCommand{ModelID: "stage", UserID: "alice"}, KindBusinessRule, MsgInvalidWorkflow},
		{"dry run of clashing ids", ExecuteCommand{ModelID: "clash", UserID: "alice", DryRun: true}, KindBusinessRule, MsgInvalidWorkflow},
		{"not permitted", ExecuteCommand{ModelID: "pipeline", UserID: "mallory"}, KindAuthorization, MsgPermissionDenied},
	}

	h := newHarness(t)
	for _, m := range []*types.FunctionModel{pipelineModel(actionOK, nil), deleted, draft, cyclic, noOutput, clash, stageNamed} {
		h.save(t, m)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.svc.Execute(context.Background(), tt.cmd)
			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Code)
			assert.Equal(t, tt.message, res.Message)
			assert.Nil(t, res.Data)
		})
	}

	h.flush(t)
	assert.Zero(t, h.store.AuditCount())
	assert.Zero(t, h.calls.Load())
}

func TestStart_PublishesToSharedControlRegistry(t *testing.T) {
	shared := controlsurface.NewRegistry()
	h := newHarness(t, func(c *harnessConfig) { c.surfaces = shared })
	h.save(t, pipelineModel(actionOK, nil))

	res := h.svc.Execute(context.Background(), command("alice"))
	require.True(t, res.Success, res.Message)

	assert.Same(t, shared, h.svc.Controls())
	assert.Equal(t, []string{res.Data.ExecutionID}, shared.IDs())
	cs, err := shared.Get(res.Data.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, res.Data.ExecutionID, cs.GetStatus().ExecutionID)
}

func TestExecute_EmptyEnvironmentUsesFirstConfigured(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionOK, nil))

	res := h.svc.Execute(context.Background(), ExecuteCommand{ModelID: "pipeline", UserID: "alice"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "development", res.Data.Execution.Environment)
}

func TestExecute_InputsReachOutputs(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionOK, nil))

	cmd := command("alice")
	cmd.Inputs = map[string]any{"question": "why"}
	res := h.svc.Execute(context.Background(), cmd)
	require.True(t, res.Success, res.Message)
	assert.Contains(t, res.Data.Execution.Outputs, "output")
}

func TestControl_UnknownExecution(t *testing.T) {
	h := newHarness(t)
	for name, res := range map[string]Result[any]{
		"pause":  erase(h.svc.PauseExecution("nope")),
		"resume": erase(h.svc.ResumeExecution("nope")),
		"stop":   erase(h.svc.StopExecution("nope")),
		"status": erase(h.svc.GetExecutionStatus("nope")),
		"wait":   erase(h.svc.Wait(context.Background(), "nope")),
	} {
		assert.False(t, res.Success, name)
		assert.Equal(t, KindNotFound, res.Code, name)
		assert.Equal(t, MsgExecutionNotFound, res.Message, name)
	}
}

func erase[T any](r Result[T]) Result[any] {
	return Result[any]{Success: r.Success, Code: r.Code, Message: r.Message}
}

// blockingModel runs A then B; A's action waits for release.
func blockingModel() *types.FunctionModel {
	return &types.FunctionModel{
		ID:     "blocking",
		Status: types.ModelStatusPublished,
		Nodes: []*types.ContainerNode{
			{ID: "a", Kind: types.NodeKindInput},
			{ID: "b", Kind: types.NodeKindOutput, Dependencies: []string{"a"}},
		},
		Actions: []*types.ActionNode{
			{ID: "hold", ParentNodeID: "a", Type: actionBlock},
			{ID: "after", ParentNodeID: "b", Type: actionOK},
		},
		Permissions: types.Permissions{Owner: "alice"},
	}
}

func (h *harness) startBlocking(t *testing.T) string {
	t.Helper()
	h.save(t, blockingModel())
	res := h.svc.Start(context.Background(), ExecuteCommand{ModelID: "blocking", UserID: "alice"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, types.ExecutionStatusRunning, res.Data.Status)
	select {
	case id := <-h.entered:
		require.Equal(t, "hold", id)
	case <-time.After(5 * time.Second):
		t.Fatal("blocking action never started")
	}
	return res.Data.ExecutionID
}

func TestControl_PauseHoldsAtNextNode(t *testing.T) {
	h := newHarness(t)
	id := h.startBlocking(t)

	paused := h.svc.PauseExecution(id)
	require.True(t, paused.Success, paused.Message)
	assert.Equal(t, types.ExecutionStatusPaused, paused.Data.Status)
	assert.True(t, paused.Data.Paused)
	assert.Equal(t, []string{"a"}, paused.Data.CurrentNodes)

	again := h.svc.PauseExecution(id)
	assert.Equal(t, KindBusinessRule, again.Code)

	close(h.release)
	assert.Eventually(t, func() bool {
		st := h.svc.GetExecutionStatus(id)
		return st.Success && len(st.Data.CompletedNodes) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		st := h.svc.GetExecutionStatus(id)
		return st.Data.NodeStates["b"] != types.NodeStatusPending
	}, 100*time.Millisecond, 10*time.Millisecond)

	resumed := h.svc.ResumeExecution(id)
	require.True(t, resumed.Success, resumed.Message)
	assert.Equal(t, types.ExecutionStatusRunning, resumed.Data.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.svc.Wait(ctx, id)
	require.True(t, done.Success, done.Message)
	assert.Equal(t, types.ExecutionStatusCompleted, done.Data.Status)

	trail := h.auditTypes(t, id)
	assert.Contains(t, trail, string(events.WorkflowExecutionPaused))
	assert.Contains(t, trail, string(events.WorkflowExecutionResumed))
}

func TestControl_ResumeRequiresPause(t *testing.T) {
	h := newHarness(t)
	id := h.startBlocking(t)

	res := h.svc.ResumeExecution(id)
	assert.False(t, res.Success)
	assert.Equal(t, KindBusinessRule, res.Code)
	assert.Equal(t, "Execution is not paused", res.Message)

	close(h.release)
	require.True(t, h.svc.Wait(context.Background(), id).Success)
}

func TestControl_StopCancelsRemainingNodes(t *testing.T) {
	h := newHarness(t)
	id := h.startBlocking(t)

	stopped := h.svc.StopExecution(id)
	require.True(t, stopped.Success, stopped.Message)
	close(h.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := h.svc.Wait(ctx, id)
	require.True(t, done.Success, done.Message)
	assert.Equal(t, types.ExecutionStatusCancelled, done.Data.Status)
	assert.Equal(t, []string{"a"}, done.Data.Execution.CompletedNodes)
	assert.Equal(t, []string{"b"}, done.Data.Execution.SkippedNodes)
	assert.Equal(t, int32(1), h.calls.Load())

	after := h.svc.StopExecution(id)
	assert.Equal(t, KindBusinessRule, after.Code)
	assert.Equal(t, MsgExecutionFinished, after.Message)

	trail := h.auditTypes(t, id)
	assert.Equal(t, string(events.WorkflowExecutionCancelled), trail[len(trail)-1])
	assert.NotContains(t, trail, string(events.WorkflowExecutionCompleted))
}

func TestControl_StopWhilePaused(t *testing.T) {
	h := newHarness(t)
	id := h.startBlocking(t)

	require.True(t, h.svc.PauseExecution(id).Success)
	require.True(t, h.svc.StopExecution(id).Success)
	close(h.release)

	done := h.svc.Wait(context.Background(), id)
	require.True(t, done.Success, done.Message)
	assert.Equal(t, types.ExecutionStatusCancelled, done.Data.Status)
}

func TestGetExecutionStatus_Finished(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionOK, nil))
	res := h.svc.Execute(context.Background(), command("alice"))
	require.True(t, res.Success)

	st := h.svc.GetExecutionStatus(res.Data.ExecutionID)
	require.True(t, st.Success)
	assert.Equal(t, types.ExecutionStatusCompleted, st.Data.Status)
	assert.Equal(t, []string{"input", "stage", "output"}, st.Data.CompletedNodes)
	assert.Empty(t, st.Data.CurrentNodes)
	assert.Equal(t, types.NodeStatusCompleted, st.Data.NodeStates["stage"])
	require.NotNil(t, st.Data.Latency)
	assert.Equal(t, int64(1), st.Data.Latency.Count)
}

func TestContexts_AfterRun(t *testing.T) {
	h := newHarness(t)
	h.save(t, pipelineModel(actionOK, nil))
	res := h.svc.Execute(context.Background(), command("alice"))
	require.True(t, res.Success)
	id := res.Data.ExecutionID

	views := h.svc.GetAccessibleContexts(id, "pipeline")
	require.True(t, views.Success, views.Message)
	levels := map[string]hierarchy.AccessLevel{}
	for _, v := range views.Data {
		levels[v.Context.NodeID] = v.AccessLevel
	}
	assert.Equal(t, hierarchy.AccessWrite, levels["stage"])
	assert.Equal(t, hierarchy.AccessWrite, levels["work"])

	lateral := h.svc.GetLateralContexts(id, "ghost")
	assert.Equal(t, KindNotFound, lateral.Code)

	grant := h.svc.RequestContextAccess(id, hierarchy.AccessRequest{
		RequesterID: "work", TargetID: "stage", AccessType: "write", UserID: "alice",
	})
	assert.False(t, grant.Success)
	assert.Equal(t, KindAuthorization, grant.Code)

	read := h.svc.RequestContextAccess(id, hierarchy.AccessRequest{
		RequesterID: "work", TargetID: "stage", AccessType: "read", UserID: "alice",
	})
	require.True(t, read.Success, read.Message)
	assert.Equal(t, hierarchy.AccessRead, read.Data.AccessLevel)
}

type panickingModels struct{ store.ModelRepository }

func (panickingModels) LoadModel(context.Context, string) (*types.FunctionModel, error) {
	panic("boom")
}

func TestExecute_PanicBecomesFailureResult(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.models = panickingModels{} })

	res := h.svc.Execute(context.Background(), command("alice"))
	assert.False(t, res.Success)
	assert.Equal(t, KindInfrastructure, res.Code)
	assert.Equal(t, MsgUnexpectedFailure, res.Message)
}

type failingExecutions struct{ store.ExecutionRepository }

func (failingExecutions) SaveExecutionResult(context.Context, *types.Execution) error {
	return errors.New("database unavailable")
}

func TestExecute_SaveFailureIsInfrastructureError(t *testing.T) {
	h := newHarness(t, func(c *harnessConfig) { c.executions = failingExecutions{} })
	h.save(t, pipelineModel(actionOK, nil))

	res := h.svc.Execute(context.Background(), command("alice"))
	assert.False(t, res.Success)
	assert.Equal(t, KindInfrastructure, res.Code)
	assert.Equal(t, "Failed to save execution result", res.Message)
}

func TestRetention_EvictsOldestFinished(t *testing.T) {
	h := newHarness(t)
	WithMaxRetained(1)(h.svc)
	h.save(t, pipelineModel(actionOK, nil))

	first := h.svc.Execute(context.Background(), command("alice"))
	second := h.svc.Execute(context.Background(), command("alice"))
	require.True(t, first.Success)
	require.True(t, second.Success)

	assert.Equal(t, KindNotFound, h.svc.GetExecutionStatus(first.Data.ExecutionID).Code)
	assert.True(t, h.svc.GetExecutionStatus(second.Data.ExecutionID).Success)
}
