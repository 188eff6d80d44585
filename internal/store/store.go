// Package store is the persistence collaborator of the engine: function
// models, execution results and the append-only audit trail.
package store

import (
	"context"
	"errors"
	"fmt"

	"yqhp/orchestration-engine/pkg/types"
)

// ErrNotFound is returned when a model or execution does not exist.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// ModelRepository loads and stores function models.
type ModelRepository interface {
	LoadModel(ctx context.Context, modelID string) (*types.FunctionModel, error)
	SaveModel(ctx context.Context, model *types.FunctionModel) error
	ListModels(ctx context.Context) ([]*types.FunctionModel, error)
}

// ExecutionRepository persists the final state of executions.
type ExecutionRepository interface {
	// SaveExecutionResult stores the execution with its aggregated result.
	// Saving the same execution again overwrites the previous row.
	SaveExecutionResult(ctx context.Context, execution *types.Execution) error
	GetExecution(ctx context.Context, executionID string) (*types.Execution, error)
}

// AuditRepository is the append-only audit trail.
type AuditRepository interface {
	// AppendAuditEntry is idempotent on entry.ID: a retried append never
	// creates a second row.
	AppendAuditEntry(ctx context.Context, entry *types.AuditLogEntry) error
	ListAuditEntries(ctx context.Context, executionID string) ([]*types.AuditLogEntry, error)
}

// Repository groups every persistence contract.
type Repository interface {
	ModelRepository
	ExecutionRepository
	AuditRepository
	Close() error
}
