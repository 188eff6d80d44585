package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"yqhp/orchestration-engine/pkg/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// queryLogger routes GORM output to the "store" zap logger. Not-found
// lookups are expected by the repository and are not reported as errors.
type queryLogger struct {
	slow  time.Duration
	level gormlogger.LogLevel
	log   *zap.Logger
}

func newQueryLogger() *queryLogger {
	return &queryLogger{
		slow:  defaultSlowQuery,
		level: gormlogger.Warn,
		log:   logger.Named("store").WithOptions(zap.WithCaller(false)),
	}
}

// LogMode implements gormlogger.Interface.
func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *queryLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

// Trace implements gormlogger.Interface.
func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow
	if !failed && !slow && l.level < gormlogger.Info {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("caller", filepath.Base(utils.FileWithLineNum())),
		zap.Duration("latency", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	switch {
	case failed:
		l.log.Error("query failed", append(fields, zap.Error(err))...)
	case slow:
		l.log.Warn("slow query", fields...)
	default:
		l.log.Debug("query", fields...)
	}
}
