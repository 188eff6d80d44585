// Package audit turns every lifecycle event into one immutable audit entry.
// It runs as a handler on the single-consumer event dispatcher, so entries
// are appended in publish order. Appends are best-effort: a failing sink is
// retried and then logged, never surfaced to the execution.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/internal/events"
	"yqhp/orchestration-engine/pkg/logger"
	"yqhp/orchestration-engine/pkg/types"
)

const (
	DefaultAppendRetries = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// Appender is the audit sink, normally a store.AuditRepository.
type Appender interface {
	AppendAuditEntry(ctx context.Context, entry *types.AuditLogEntry) error
}

// Handler appends audit entries for delivered events.
type Handler struct {
	sink       Appender
	retries    int
	retryDelay time.Duration
	log        *zap.Logger

	appended atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithRetries sets how many times a failed append is retried.
func WithRetries(n int, delay time.Duration) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.retries = n
		}
		if delay >= 0 {
			h.retryDelay = delay
		}
	}
}

// NewHandler creates an audit handler writing to sink.
func NewHandler(sink Appender, opts ...Option) *Handler {
	h := &Handler{
		sink:       sink,
		retries:    DefaultAppendRetries,
		retryDelay: DefaultRetryDelay,
		log:        logger.Named("audit"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EntryFromEvent maps an event to its audit entry. The entry id is the event
// id, which makes retried appends idempotent.
func EntryFromEvent(e events.Event) *types.AuditLogEntry {
	return &types.AuditLogEntry{
		ID:          e.ID,
		EntityType:  e.Type.Entity(),
		EntityID:    e.AggregateID,
		Operation:   e.Type.Operation(),
		UserID:      e.UserID,
		Timestamp:   e.Timestamp,
		EventType:   string(e.Type),
		EventData:   e.Data,
		ExecutionID: e.ExecutionID,
		ModelID:     e.ModelID,
	}
}

// Handle implements events.Handler. It always returns nil.
func (h *Handler) Handle(ctx context.Context, e events.Event) error {
	entry := EntryFromEvent(e)

	var err error
retry:
	for attempt := 0; ; attempt++ {
		if err = h.sink.AppendAuditEntry(ctx, entry); err == nil {
			h.appended.Add(1)
			return nil
		}
		if attempt >= h.retries {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(h.retryDelay):
		}
	}

	h.dropped.Add(1)
	h.log.Error("audit append failed, entry dropped",
		zap.String("entry_id", entry.ID),
		zap.String("event_type", entry.EventType),
		zap.String("execution_id", entry.ExecutionID),
		zap.Error(err))
	return nil
}

// Stats returns the number of appended and dropped entries.
func (h *Handler) Stats() (appended, dropped int64) {
	return h.appended.Load(), h.dropped.Load()
}
