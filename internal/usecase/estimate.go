package usecase

import (
	"sort"
	"time"

	"github.com/duke-git/lancet/v2/slice"

	"yqhp/orchestration-engine/internal/graph"
	"yqhp/orchestration-engine/pkg/types"
)

// Estimate is the cost/shape summary returned by a dry run.
type Estimate struct {
	ModelID            string   `json:"modelId"`
	NodeCount          int      `json:"nodeCount"`
	ActionCount        int      `json:"actionCount"`
	RankCount          int      `json:"rankCount"`
	MaxParallelWidth   int      `json:"maxParallelWidth"`
	ExecutionOrder     []string `json:"executionOrder"`
	WorstCaseAttempts  int      `json:"worstCaseAttempts"`
	WorstCaseRetryWait int64    `json:"worstCaseRetryWaitMs"`
	NestedModels       int      `json:"nestedModels"`
	ActionTypes        []string `json:"actionTypes"`
	MissingHandlers    []string `json:"missingHandlers,omitempty"`
}

// estimateModel walks a validated model without touching any state. Inline
// nested models are counted recursively; nested references by id count as
// one model each.
func (s *Service) estimateModel(m *types.FunctionModel) (*Estimate, error) {
	order, err := graph.TopologicalOrder(m)
	if err != nil {
		return nil, err
	}
	ranks, err := graph.Ranks(m)
	if err != nil {
		return nil, err
	}

	est := &Estimate{
		ModelID:        m.ID,
		NodeCount:      len(m.Nodes),
		RankCount:      len(ranks),
		ExecutionOrder: order,
	}
	est.MaxParallelWidth = 1
	if m.ExecutionType == types.ExecutionParallel {
		for _, rank := range ranks {
			est.MaxParallelWidth = max(est.MaxParallelWidth, len(rank))
		}
	}

	var actionTypes []string
	var wait time.Duration
	s.walkActions(m, map[*types.FunctionModel]bool{}, func(a *types.ActionNode) {
		est.ActionCount++
		actionTypes = append(actionTypes, string(a.Type))
		policy := s.exec.PolicyFor(a)
		est.WorstCaseAttempts += policy.TotalAttempts()
		for attempt := 0; attempt < policy.TotalAttempts()-1; attempt++ {
			wait += policy.Delay(attempt)
		}
	}, func() { est.NestedModels++ })

	est.WorstCaseRetryWait = wait.Milliseconds()
	est.ActionTypes = slice.Unique(actionTypes)
	sort.Strings(est.ActionTypes)
	for _, t := range est.ActionTypes {
		if !s.exec.Registry().Has(types.ActionType(t)) {
			est.MissingHandlers = append(est.MissingHandlers, t)
		}
	}
	return est, nil
}

func (s *Service) walkActions(m *types.FunctionModel, seen map[*types.FunctionModel]bool, onAction func(*types.ActionNode), onNested func()) {
	if seen[m] {
		return
	}
	seen[m] = true
	visit := func(ref *types.NestedModelRef) {
		if ref == nil {
			return
		}
		onNested()
		if ref.Model != nil {
			s.walkActions(ref.Model, seen, onAction, onNested)
		}
	}
	for _, n := range m.Nodes {
		visit(n.NestedModel)
	}
	for _, a := range m.Actions {
		onAction(a)
		visit(a.NestedModel)
	}
}
