// Package controlsurface provides the ControlSurface type and registry for
// reaching a running execution from any layer (REST API, CLI, use case)
// without creating import cycles.
package controlsurface

import (
	"context"
	"errors"
	"sync"

	"yqhp/orchestration-engine/pkg/types"
)

// ErrNotFound is returned when no surface is registered for an execution id.
var ErrNotFound = errors.New("execution not found")

// LatencySummary 动作耗时统计（毫秒）
type LatencySummary struct {
	Count int64   `json:"count"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Status is a point-in-time view of a running or finished execution.
type Status struct {
	ExecutionID    string                      `json:"execution_id"`
	ModelID        string                      `json:"model_id"`
	Status         types.ExecutionStatus       `json:"status"`
	Paused         bool                        `json:"paused"`
	CompletedNodes []string                    `json:"completed_nodes"`
	FailedNodes    []string                    `json:"failed_nodes"`
	SkippedNodes   []string                    `json:"skipped_nodes"`
	CurrentNodes   []string                    `json:"current_nodes,omitempty"`
	NodeStates     map[string]types.NodeStatus `json:"node_states,omitempty"`
	Errors         []types.ExecutionError      `json:"errors,omitempty"`
	DurationMs     int64                       `json:"duration_ms"`
	Latency        *LatencySummary             `json:"latency,omitempty"`
}

// ControlSurface provides access to a running execution's internal state.
type ControlSurface struct {
	RunCtx context.Context

	GetStatus       func() *Status
	PauseExecution  func() error
	ResumeExecution func() error
	StopExecution   func() error

	// Done is closed when the execution reaches a terminal status.
	Done <-chan struct{}
}

// Registry maps execution ids to control surfaces.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]*ControlSurface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{surfaces: make(map[string]*ControlSurface)}
}

// Register registers a ControlSurface for an execution.
func (r *Registry) Register(executionID string, cs *ControlSurface) {
	r.mu.Lock()
	r.surfaces[executionID] = cs
	r.mu.Unlock()
}

// Unregister removes a ControlSurface for an execution.
func (r *Registry) Unregister(executionID string) {
	r.mu.Lock()
	delete(r.surfaces, executionID)
	r.mu.Unlock()
}

// Get retrieves the ControlSurface for an execution.
func (r *Registry) Get(executionID string) (*ControlSurface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.surfaces[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cs, nil
}

// IDs returns the registered execution ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	return ids
}

// --- Global registry ---

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
