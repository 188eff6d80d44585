package orchestrator

import (
	"sync"
	"time"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/hierarchy"
	"yqhp/orchestration-engine/internal/metrics"
	"yqhp/orchestration-engine/pkg/types"
)

// Run carries the per-execution state shared by every orchestrator layer.
type Run struct {
	ExecutionID string
	ModelID     string
	UserID      string

	// Inputs is the output of input containers that declare no actions.
	Inputs map[string]any

	Hierarchy *hierarchy.Service
	Publisher events.Publisher
	Latency   *metrics.LatencyRecorder
	Control   *Control

	states    *stateTracker
	startedAt time.Time
}

// NewRun creates the state for one execution. A nil hierarchy or publisher is
// replaced by a private hierarchy and a no-op publisher.
func NewRun(executionID, modelID, userID string, h *hierarchy.Service, pub events.Publisher) *Run {
	if h == nil {
		h = hierarchy.NewService()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Run{
		ExecutionID: executionID,
		ModelID:     modelID,
		UserID:      userID,
		Inputs:      map[string]any{},
		Hierarchy:   h,
		Publisher: events.Scoped{Publisher: pub, Scope: events.Scope{
			ExecutionID: executionID,
			ModelID:     modelID,
			UserID:      userID,
		}},
		Latency:   metrics.NewLatencyRecorder(),
		Control:   NewControl(),
		states:    newStateTracker(),
		startedAt: time.Now(),
	}
}

// NodeStates returns the last known status of every container, keyed by its
// scoped id. Nested containers use "<host>::<model>::<node>" ids.
func (r *Run) NodeStates() map[string]types.NodeStatus {
	return r.states.snapshot()
}

// RunningNodes returns the ids of containers currently running.
func (r *Run) RunningNodes() []string {
	return r.states.running()
}

// Elapsed returns the time since the run was created.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.startedAt)
}

func (r *Run) publish(e events.Event) {
	r.Publisher.Publish(e)
}

// stateTracker records per-node state transitions for status queries.
type stateTracker struct {
	mu     sync.RWMutex
	states map[string]types.NodeStatus
	order  []string
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]types.NodeStatus)}
}

func (t *stateTracker) set(id string, status types.NodeStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[id]; !ok {
		t.order = append(t.order, id)
	}
	t.states[id] = status
}

func (t *stateTracker) snapshot() map[string]types.NodeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.NodeStatus, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

func (t *stateTracker) running() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, id := range t.order {
		if t.states[id] == types.NodeStatusRunning {
			out = append(out, id)
		}
	}
	return out
}
