package store

import (
	"context"
	"sort"
	"sync"

	"yqhp/orchestration-engine/pkg/types"
	"yqhp/orchestration-engine/pkg/utils"
)

// MemoryStore is an in-process Repository. Stored values are deep copies so
// callers cannot mutate persisted state.
type MemoryStore struct {
	mu         sync.RWMutex
	models     map[string]*types.FunctionModel
	executions map[string]*types.Execution
	audit      []*types.AuditLogEntry
	auditIDs   map[string]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models:     make(map[string]*types.FunctionModel),
		executions: make(map[string]*types.Execution),
		auditIDs:   make(map[string]bool),
	}
}

// LoadModel implements ModelRepository.
func (s *MemoryStore) LoadModel(_ context.Context, modelID string) (*types.FunctionModel, error) {
	s.mu.RLock()
	m, ok := s.models[modelID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("model", modelID)
	}
	return utils.Clone(m)
}

// SaveModel implements ModelRepository.
func (s *MemoryStore) SaveModel(_ context.Context, model *types.FunctionModel) error {
	c, err := utils.Clone(model)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.models[model.ID] = c
	s.mu.Unlock()
	return nil
}

// ListModels implements ModelRepository, sorted by id.
func (s *MemoryStore) ListModels(_ context.Context) ([]*types.FunctionModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.FunctionModel, 0, len(s.models))
	for _, m := range s.models {
		c, err := utils.Clone(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveExecutionResult implements ExecutionRepository.
func (s *MemoryStore) SaveExecutionResult(_ context.Context, execution *types.Execution) error {
	c, err := utils.Clone(execution)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.executions[execution.ID] = c
	s.mu.Unlock()
	return nil
}

// GetExecution implements ExecutionRepository.
func (s *MemoryStore) GetExecution(_ context.Context, executionID string) (*types.Execution, error) {
	s.mu.RLock()
	e, ok := s.executions[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("execution", executionID)
	}
	return utils.Clone(e)
}

// AppendAuditEntry implements AuditRepository.
func (s *MemoryStore) AppendAuditEntry(_ context.Context, entry *types.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditIDs[entry.ID] {
		return nil
	}
	c := *entry
	s.audit = append(s.audit, &c)
	s.auditIDs[entry.ID] = true
	return nil
}

// ListAuditEntries implements AuditRepository. An empty executionID lists
// every entry. Entries keep append order.
func (s *MemoryStore) ListAuditEntries(_ context.Context, executionID string) ([]*types.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.AuditLogEntry
	for _, e := range s.audit {
		if executionID == "" || e.ExecutionID == executionID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// AuditCount returns the number of stored audit entries.
func (s *MemoryStore) AuditCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.audit)
}

// Close implements Repository.
func (s *MemoryStore) Close() error { return nil }
