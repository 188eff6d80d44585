package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/audit"
	"yqhp/orchestration-engine/internal/broadcast"
	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/internal/executor"
	"yqhp/orchestration-engine/internal/orchestrator"
	"yqhp/orchestration-engine/internal/store"
	"yqhp/orchestration-engine/internal/usecase"
	"yqhp/orchestration-engine/pkg/controlsurface"
	"yqhp/orchestration-engine/pkg/logger"
)

// app holds every long-lived component of one process.
type app struct {
	cfg         *config.Config
	repo        store.Repository
	broadcaster broadcast.Broadcaster
	dispatcher  *events.Dispatcher
	audit       *audit.Handler
	usecase     *usecase.Service

	stopDispatcher context.CancelFunc
}

// appOption adjusts wiring before the dispatcher starts.
type appOption func(*appOptions)

type appOptions struct {
	handlers []namedHandler
}

type namedHandler struct {
	name    string
	handler events.Handler
}

// withEventHandler registers an extra dispatcher handler after audit and
// broadcast.
func withEventHandler(name string, h events.Handler) appOption {
	return func(o *appOptions) {
		o.handlers = append(o.handlers, namedHandler{name: name, handler: h})
	}
}

// buildApp wires store → dispatcher (audit + broadcast) → executor →
// orchestrator → use case.
func buildApp(ctx context.Context, cfg *config.Config, kb executor.KnowledgeBase, opts ...appOption) (*app, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	repo, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var b broadcast.Broadcaster
	switch cfg.Broadcast.Driver {
	case "redis":
		b, err = broadcast.NewRedisBroadcaster(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("connect broadcast: %w", err)
		}
	default:
		b = broadcast.NewMemoryBroadcaster()
	}

	auditHandler := audit.NewHandler(repo, audit.WithRetries(cfg.Audit.AppendRetries, cfg.Audit.RetryDelay))
	d := events.NewDispatcher()
	d.Register("audit", auditHandler)
	d.Register("broadcast", broadcast.NewForwarder(b, cfg.Broadcast.ChannelPrefix))
	for _, h := range o.handlers {
		d.Register(h.name, h.handler)
	}
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.Start(dctx)

	exec := executor.NewService(
		executor.DefaultRegistry(kb, cfg.Engine.ExternalCallTimeout),
		executor.WithDefaultRetry(cfg.Engine.DefaultRetry.Policy()),
	)
	orch := orchestrator.New(exec,
		orchestrator.WithModelLoader(repo),
		orchestrator.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
		orchestrator.WithContinueOnError(cfg.Engine.ContinueOnError),
	)
	uc := usecase.NewService(repo, repo, orch,
		usecase.WithPublisher(d),
		usecase.WithEnvironments(cfg.Engine.Environments),
		usecase.WithMaxHierarchyDepth(cfg.Engine.MaxHierarchyDepth),
		usecase.WithEmergencyAccessMax(cfg.Engine.EmergencyAccessMax),
		usecase.WithControlRegistry(controlsurface.Default()),
	)

	return &app{
		cfg:            cfg,
		repo:           repo,
		broadcaster:    b,
		dispatcher:     d,
		audit:          auditHandler,
		usecase:        uc,
		stopDispatcher: cancel,
	}, nil
}

// close stops running executions, drains the event queue and releases
// connections.
func (a *app) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.usecase.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop executions: %w", err))
	}
	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain events: %w", err))
	}
	a.stopDispatcher()

	appended, dropped := a.audit.Stats()
	logger.Debug("audit pipeline closed", zap.Int64("appended", appended), zap.Int64("dropped", dropped))

	if err := a.broadcaster.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broadcast: %w", err))
	}
	if err := a.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// loadKnowledge reads name=path.json pairs into a static knowledge base.
func loadKnowledge(pairs []string) (*executor.StaticKnowledge, error) {
	kb := executor.NewStaticKnowledge()
	for _, p := range pairs {
		name, path, ok := strings.Cut(p, "=")
		if !ok {
			path = p
			name = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read knowledge %s: %w", path, err)
		}
		if err := kb.PutJSON(name, string(data)); err != nil {
			return nil, err
		}
	}
	return kb, nil
}
