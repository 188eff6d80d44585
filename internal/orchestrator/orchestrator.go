package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

const (
	// DefaultMaxConcurrent 默认最大并发数
	DefaultMaxConcurrent = 10

	tracerName = "yqhp/orchestration-engine/orchestrator"

	// nestedSeparator joins a host node id and a nested model id into a
	// hierarchy id, keeping nested node ids unique within one run.
	nestedSeparator = "::"
)

// ModelLoader resolves nested model references that carry only a model id.
type ModelLoader interface {
	LoadModel(ctx context.Context, modelID string) (*types.FunctionModel, error)
}

// Orchestrator runs function models: workflow ordering, per-container action
// dispatch and nested model recursion.
type Orchestrator struct {
	executor        *executor.Service
	loader          ModelLoader
	maxConcurrent   int
	continueOnError bool
	tracer          trace.Tracer
	log             *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModelLoader sets the loader used for nested references by id.
func WithModelLoader(l ModelLoader) Option {
	return func(o *Orchestrator) { o.loader = l }
}

// WithMaxConcurrent bounds concurrent actions per container and concurrent
// containers per rank.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithContinueOnError makes sequential containers run every action even
// after one fails.
func WithContinueOnError(enabled bool) Option {
	return func(o *Orchestrator) { o.continueOnError = enabled }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an orchestrator that dispatches actions through exec.
func New(exec *executor.Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executor:      exec,
		maxConcurrent: DefaultMaxConcurrent,
		tracer:        otel.Tracer(tracerName),
		log:           logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Executor returns the action execution service used by the orchestrator.
func (o *Orchestrator) Executor() *executor.Service {
	return o.executor
}

// modelScope places one model, top-level or nested, in the run's hierarchy.
type modelScope struct {
	// prefix is prepended to node ids: "" at the top level,
	// "<host>::<model>::" for nested models.
	prefix string
	rootID string
	level  int
	depth  int
}

func topLevelScope(m *types.FunctionModel, level int) modelScope {
	return modelScope{rootID: m.ID, level: level}
}

func nestedScope(hostID string, hostLevel, depth int, m *types.FunctionModel) modelScope {
	root := hostID + nestedSeparator + m.ID
	return modelScope{
		prefix: root + nestedSeparator,
		rootID: root,
		level:  hostLevel + 1,
		depth:  depth,
	}
}

func (s modelScope) id(local string) string {
	return s.prefix + local
}

func (s modelScope) containerLevel() int { return s.level + 1 }

func (s modelScope) actionLevel() int { return s.level + 2 }

func (s modelScope) nested() bool { return s.depth > 0 }
