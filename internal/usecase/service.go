// Package usecase is the single entry point for running function models:
// it validates a request, starts the run in the background and exposes
// pause, resume, stop and status against the execution id.
package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/logger"
)

const (
	// DefaultMaxRetained bounds how many finished executions stay queryable.
	DefaultMaxRetained = 1000
	// DefaultEmergencyAccessMax caps emergency context grants.
	DefaultEmergencyAccessMax = 15 * time.Minute
	// DefaultMaxHierarchyDepth is the per-run hierarchy depth limit.
	DefaultMaxHierarchyDepth = 10
)

// DefaultEnvironments are accepted when no environment list is configured.
var DefaultEnvironments = []string{"development", "staging", "production"}

// Service implements the execute-workflow use case.
type Service struct {
	models     store.ModelRepository
	executions store.ExecutionRepository
	orch       *orchestrator.Orchestrator
	exec       *executor.Service
	publisher  events.Publisher
	surfaces   *controlsurface.Registry

	environments       []string
	maxDepth           int
	emergencyAccessMax time.Duration
	maxRetained        int

	mu       sync.RWMutex
	runs     map[string]*execution
	finished []string

	log *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher, normally the audit dispatcher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithEnvironments sets the accepted environment names.
func WithEnvironments(envs []string) Option {
	return func(s *Service) {
		if len(envs) > 0 {
			s.environments = append([]string{}, envs...)
		}
	}
}

// WithMaxHierarchyDepth sets the hierarchy depth limit of each run.
func WithMaxHierarchyDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithEmergencyAccessMax caps emergency context grants of each run.
func WithEmergencyAccessMax(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.emergencyAccessMax = d
		}
	}
}

// WithControlRegistry sets the registry control surfaces are published to.
func WithControlRegistry(r *controlsurface.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.surfaces = r
		}
	}
}

// WithMaxRetained bounds how many finished executions stay queryable.
func WithMaxRetained(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetained = n
		}
	}
}

// NewService creates the use case. Models are loaded from models and final
// results are written to executions.
func NewService(models store.ModelRepository, executions store.ExecutionRepository, orch *orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		models:             models,
		executions:         executions,
		orch:               orch,
		exec:               orch.Executor(),
		publisher:          events.Nop{},
		surfaces:           controlsurface.NewRegistry(),
		environments:       append([]string{}, DefaultEnvironments...),
		maxDepth:           DefaultMaxHierarchyDepth,
		emergencyAccessMax: DefaultEmergencyAccessMax,
		maxRetained:        DefaultMaxRetained,
		runs:               make(map[string]*execution),
		log:                logger.Named("usecase"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Controls returns the registry holding the control surface of every known
// execution.
func (s *Service) Controls() *controlsurface.Registry {
	return s.surfaces
}

func (s *Service) lookup(executionID string) (*execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[executionID]
	if !ok {
		return nil, newError(KindNotFound, MsgExecutionNotFound, nil)
	}
	return e, nil
}

func (s *Service) track(e *execution) {
	s.mu.Lock()
	s.runs[e.id] = e
	s.mu.Unlock()
}

// retire marks an execution finished and evicts the oldest finished ones
// beyond the retention limit.
func (s *Service) retire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, id)
	for len(s.finished) > s.maxRetained {
		oldest := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.runs, oldest)
		s.surfaces.Unregister(oldest)
	}
}

// Shutdown stops every running execution and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	running := make([]*execution, 0, len(s.runs))
	for _, e := range s.runs {
		running = append(running, e)
	}
	s.mu.RUnlock()

	for _, e := range running {
		_ = e.run.Control.Stop()
	}
	for _, e := range running {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
