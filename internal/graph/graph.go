package graph

import (
	"fmt"
	"sort"
	"strings"

	"yqhp/orchestration-engine/pkg/types"
)

// Validate checks the structure of a function model and of every nested model
// embedded inline. All problems are returned together as ValidationErrors.
func Validate(m *types.FunctionModel) error {
	var errs ValidationErrors
	validate(m, map[*types.FunctionModel]bool{}, &errs)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validate(m *types.FunctionModel, seen map[*types.FunctionModel]bool, errs *ValidationErrors) {
	add := func(code ErrorCode, nodeID, format string, args ...any) {
		*errs = append(*errs, &GraphError{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
	}

	if m == nil {
		add(ErrCodeInvalidModel, "", "model is nil")
		return
	}
	if seen[m] {
		return
	}
	seen[m] = true

	if len(m.Nodes) == 0 {
		add(ErrCodeInvalidModel, m.ID, "model must contain at least one node")
		return
	}

	// 模型、容器和动作在上下文层级中共用一个 id 空间
	ids := make(map[string]bool, len(m.Nodes))
	var inputs, outputs int
	for _, n := range m.Nodes {
		if ids[n.ID] {
			add(ErrCodeDuplicateID, n.ID, "duplicate container id")
		}
		if n.ID == m.ID {
			add(ErrCodeDuplicateID, n.ID, "container id equals the model id")
		}
		ids[n.ID] = true
		switch n.Kind {
		case types.NodeKindInput:
			inputs++
		case types.NodeKindOutput:
			outputs++
		case types.NodeKindStage:
		default:
			add(ErrCodeInvalidKind, n.ID, "unknown node kind %q", n.Kind)
		}
	}
	if inputs == 0 {
		add(ErrCodeMissingBoundary, m.ID, "model requires an input node")
	}
	if outputs == 0 {
		add(ErrCodeMissingBoundary, m.ID, "model requires an output node")
	}

	for _, n := range m.Nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				add(ErrCodeSelfDependency, n.ID, "node depends on itself")
				continue
			}
			if !ids[dep] {
				add(ErrCodeMissingDependency, n.ID, "dependency %s does not exist", dep)
			}
		}
		if n.NestedModel != nil && n.NestedModel.Model != nil {
			validate(n.NestedModel.Model, seen, errs)
		}
	}

	actionIDs := make(map[string]bool, len(m.Actions))
	for _, a := range m.Actions {
		switch {
		case actionIDs[a.ID]:
			add(ErrCodeDuplicateID, a.ID, "duplicate action id")
		case ids[a.ID]:
			add(ErrCodeDuplicateID, a.ID, "action id equals a container id")
		case a.ID == m.ID:
			add(ErrCodeDuplicateID, a.ID, "action id equals the model id")
		}
		actionIDs[a.ID] = true
		if !ids[a.ParentNodeID] {
			add(ErrCodeOrphanAction, a.ID, "parent node %s does not exist", a.ParentNodeID)
		}
		if a.NestedModel != nil && a.NestedModel.Model != nil {
			validate(a.NestedModel.Model, seen, errs)
		}
	}

	if cycle := DetectCycle(m); len(cycle) > 0 {
		add(ErrCodeCycleDetected, m.ID, "cycle detected: %s", strings.Join(cycle, " -> "))
	}
}

// DetectCycle returns the node ids of one dependency cycle, or nil.
// Unknown dependency ids are ignored.
func DetectCycle(m *types.FunctionModel) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(m.Nodes))
	parent := make(map[string]string, len(m.Nodes))
	deps := dependencyMap(m)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case white:
				parent[dep] = id
				if c := dfs(dep); c != nil {
					return c
				}
			case gray:
				cycle := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				// 按执行方向排列：每个节点依赖前一个
				return append(cycle, dep)
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range m.Nodes {
		if color[n.ID] == white {
			if c := dfs(n.ID); c != nil {
				return c
			}
		}
	}
	return nil
}

// dependencyMap returns node id -> known dependency ids, excluding self edges.
func dependencyMap(m *types.FunctionModel) map[string][]string {
	known := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		known[n.ID] = true
	}
	deps := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		for _, d := range n.Dependencies {
			if d != n.ID && known[d] {
				deps[n.ID] = append(deps[n.ID], d)
			}
		}
	}
	return deps
}

// TopologicalOrder returns container ids so every node follows its
// dependencies. Among nodes that are ready at the same time the one declared
// first in the model wins (Kahn's algorithm with an insertion-ordered queue).
func TopologicalOrder(m *types.FunctionModel) ([]string, error) {
	index := make(map[string]int, len(m.Nodes))
	for i, n := range m.Nodes {
		index[n.ID] = i
	}
	deps := dependencyMap(m)

	inDegree := make(map[string]int, len(m.Nodes))
	dependents := make(map[string][]string, len(m.Nodes))
	for _, n := range m.Nodes {
		inDegree[n.ID] = len(deps[n.ID])
		for _, d := range deps[n.ID] {
			dependents[d] = append(dependents[d], n.ID)
		}
	}

	var ready []string
	for _, n := range m.Nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]string, 0, len(m.Nodes))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = insertByIndex(ready, next, index)
			}
		}
	}

	if len(order) != len(m.Nodes) {
		return nil, &GraphError{
			Code:    ErrCodeCycleDetected,
			NodeID:  m.ID,
			Message: "cannot order nodes: cycle detected",
		}
	}
	return order, nil
}

func insertByIndex(ready []string, id string, index map[string]int) []string {
	pos := sort.Search(len(ready), func(i int) bool { return index[ready[i]] > index[id] })
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

// Ranks groups container ids by longest dependency path from a root: every
// node in rank k depends only on nodes in ranks < k, so nodes of one rank are
// independent of each other. Each rank keeps insertion order.
func Ranks(m *types.FunctionModel) ([][]string, error) {
	order, err := TopologicalOrder(m)
	if err != nil {
		return nil, err
	}
	deps := dependencyMap(m)

	rank := make(map[string]int, len(order))
	maxRank := 0
	for _, id := range order {
		r := 0
		for _, d := range deps[id] {
			if rank[d]+1 > r {
				r = rank[d] + 1
			}
		}
		rank[id] = r
		if r > maxRank {
			maxRank = r
		}
	}

	ranks := make([][]string, maxRank+1)
	for _, n := range m.Nodes {
		r := rank[n.ID]
		ranks[r] = append(ranks[r], n.ID)
	}
	return ranks, nil
}

// Dependents returns the ids of nodes that transitively depend on id.
func Dependents(m *types.FunctionModel, id string) []string {
	deps := dependencyMap(m)
	reverse := make(map[string][]string)
	for node, ds := range deps {
		for _, d := range ds {
			reverse[d] = append(reverse[d], node)
		}
	}

	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range reverse[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for _, n := range m.Nodes {
		if n.ID != id && seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
