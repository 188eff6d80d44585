package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/pkg/types"
)

type mapLoader map[string]*types.FunctionModel

func (l mapLoader) LoadModel(_ context.Context, id string) (*types.FunctionModel, error) {
	if m, ok := l[id]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

func innerModel(action types.ActionType) *types.FunctionModel {
	return &types.FunctionModel{
		ID: "inner",
		Nodes: []*types.ContainerNode{
			{ID: "in", Kind: types.NodeKindInput},
			{ID: "out", Kind: types.NodeKindOutput, Dependencies: []string{"in"}},
		},
		Actions: []*types.ActionNode{
			{ID: "inner-work", ParentNodeID: "out", Type: action},
		},
	}
}

func outerWithNestedAction(ref *types.NestedModelRef) *types.FunctionModel {
	return &types.FunctionModel{
		ID: "outer",
		Nodes: []*types.ContainerNode{
			{ID: "input", Kind: types.NodeKindInput},
			{ID: "stage", Kind: types.NodeKindStage, Dependencies: []string{"input"}},
			{ID: "output", Kind: types.NodeKindOutput, Dependencies: []string{"stage"}},
		},
		Actions: []*types.ActionNode{
			{ID: "embed", ParentNodeID: "stage", Type: types.ActionNestedModel, NestedModel: ref},
		},
	}
}

func TestFractal_NestedActionSucceeds(t *testing.T) {
	f := newFixture(t)
	run := f.newRun("outer")

	result, err := f.orch.ExecuteWorkflow(context.Background(), run, outerWithNestedAction(&types.NestedModelRef{Model: innerModel(actionOK)}))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.CompletedNodes, 3)
	require.Len(t, result.NodeResults["stage"].Nested, 1)
	nested := result.NodeResults["stage"].Nested[0]
	assert.Equal(t, "inner", nested.ModelID)
	assert.Equal(t, []string{"in", "out"}, nested.CompletedNodes)

	// 嵌套模型挂在宿主动作下，低一层
	view, err := run.Hierarchy.GetNodeContext("embed::inner")
	require.NoError(t, err)
	assert.Equal(t, "embed", view.Context.ParentNodeID)
	assert.Equal(t, 3, view.Context.HierarchyLevel)

	work, err := run.Hierarchy.GetNodeContext("embed::inner::inner-work")
	require.NoError(t, err)
	assert.Equal(t, 5, work.Context.HierarchyLevel)
	assert.Equal(t, "completed", work.Context.ContextData["status"])

	rel, _, err := run.Hierarchy.Resolve("outer", "embed::inner::inner-work")
	require.NoError(t, err)
	assert.Equal(t, hierarchy.RelationDescendant, rel)

	var nestedEvents []events.EventType
	for _, e := range f.recorder.Events() {
		if e.Type == events.NestedModelStarted || e.Type == events.NestedModelCompleted {
			nestedEvents = append(nestedEvents, e.Type)
			assert.Equal(t, "inner", e.ModelID)
		}
	}
	assert.Equal(t, []events.EventType{events.NestedModelStarted, events.NestedModelCompleted}, nestedEvents)
}

func TestFractal_NestedFailureFailsHost(t *testing.T) {
	f := newFixture(t)
	run := f.newRun("outer")

	result, err := f.orch.ExecuteWorkflow(context.Background(), run, outerWithNestedAction(&types.NestedModelRef{Model: innerModel(actionFail)}))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{"stage"}, result.FailedNodes)
	assert.Equal(t, []string{"output"}, result.SkippedNodes)

	var nodeIDs []string
	for _, e := range result.Errors {
		nodeIDs = append(nodeIDs, e.NodeID)
	}
	assert.Contains(t, nodeIDs, "stage")
	assert.Contains(t, nodeIDs, "embed::inner::out")
	// 嵌套失败不再重试
	assert.Equal(t, []string{"inner-work"}, f.calls.list())
}

func TestFractal_ContainerLevelNestedModel(t *testing.T) {
	f := newFixture(t)
	model := &types.FunctionModel{
		ID: "outer",
		Nodes: []*types.ContainerNode{
			{ID: "input", Kind: types.NodeKindInput},
			{ID: "sub", Kind: types.NodeKindStage, Dependencies: []string{"input"}, NestedModel: &types.NestedModelRef{ModelID: "inner"}},
			{ID: "output", Kind: types.NodeKindOutput, Dependencies: []string{"sub"}},
		},
	}
	f.orch.loader = mapLoader{"inner": innerModel(actionOK)}
	run := f.newRun("outer")

	result, err := f.orch.ExecuteWorkflow(context.Background(), run, model)
	require.NoError(t, err)
	assert.True(t, result.Success)

	view, err := run.Hierarchy.GetNodeContext("sub::inner")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Context.HierarchyLevel)
}

func TestFractal_UnknownNestedModel(t *testing.T) {
	f := newFixture(t, WithModelLoader(mapLoader{}))

	result, err := f.orch.ExecuteWorkflow(context.Background(), f.newRun("outer"), outerWithNestedAction(&types.NestedModelRef{ModelID: "missing"}))
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, string(executor.ErrCodeNestedFailed), result.Errors[0].Code)
}

func TestFractal_SelfEmbeddingIsBoundedByDepth(t *testing.T) {
	f := newFixture(t)
	model := outerWithNestedAction(nil)
	model.Actions[0].NestedModel = &types.NestedModelRef{Model: model}
	run := NewRun("exec-1", "outer", "user-1", hierarchy.NewService(hierarchy.WithMaxDepth(10)), f.recorder)

	result, err := f.orch.ExecuteWorkflow(context.Background(), run, model)
	require.NoError(t, err)
	assert.False(t, result.Success)

	var levels []int
	for _, e := range f.recorder.Events() {
		if e.Type == events.NestedModelStarted {
			levels = append(levels, e.Data["hierarchyLevel"].(int))
		}
	}
	assert.Equal(t, []int{3, 6}, levels)

	found := false
	for _, e := range result.Errors {
		if e.Code == string(executor.ErrCodeNestedFailed) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFractal_DepthErrorIsTyped(t *testing.T) {
	f := newFixture(t)
	run := NewRun("e", "outer", "u", hierarchy.NewService(hierarchy.WithMaxDepth(4)), nil)

	_, err := f.orch.executeNested(context.Background(), run, "host", 2, 0, &types.NestedModelRef{Model: innerModel(actionOK)})
	require.Error(t, err)
	assert.True(t, IsDepthExceeded(err))
	assert.False(t, executor.IsRetryable(err))
}
