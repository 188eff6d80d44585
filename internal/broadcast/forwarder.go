package broadcast

import (
	"context"

	"yqhp/orchestration-engine/internal/events"
)

// Forwarder is an events.Handler that republishes execution events on the
// per-execution channel. Events without an execution id are ignored.
type Forwarder struct {
	b      Broadcaster
	prefix string
}

// NewForwarder creates a forwarder publishing to b under prefix.
func NewForwarder(b Broadcaster, prefix string) *Forwarder {
	return &Forwarder{b: b, prefix: prefix}
}

// Handle implements events.Handler.
func (f *Forwarder) Handle(ctx context.Context, e events.Event) error {
	if e.ExecutionID == "" {
		return nil
	}
	return f.b.Publish(ctx, ExecutionChannel(f.prefix, e.ExecutionID), FromEvent(e))
}
