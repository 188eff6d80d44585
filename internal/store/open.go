package store

import (
	"context"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/config"
	"yqhp/orchestration-engine/pkg/logger"
)

// Open creates the repository selected by cfg.Driver and seeds it with the
// models found in cfg.ModelDir.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	var repo Repository
	if cfg.Driver == "" || cfg.Driver == "memory" {
		repo = NewMemoryStore()
	} else {
		s, err := OpenGorm(Options{
			Driver:       cfg.Driver,
			DSN:          cfg.DSN,
			MaxIdleConns: cfg.MaxIdleConns,
			MaxOpenConns: cfg.MaxOpenConns,
			AutoMigrate:  cfg.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		repo = s
	}

	if cfg.ModelDir != "" {
		ids, err := LoadModelDir(ctx, cfg.ModelDir, repo)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		logger.Info("function models loaded",
			zap.String("dir", cfg.ModelDir),
			zap.Strings("models", ids))
	}
	return repo, nil
}
