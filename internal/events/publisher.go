package events

import (
	"context"
	"sync"
)

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Handler consumes delivered events.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Scoped stamps every published event with an execution scope.
type Scoped struct {
	Publisher Publisher
	Scope     Scope
}

// Publish applies the scope and forwards the event.
func (s Scoped) Publish(e Event) {
	if s.Publisher == nil {
		return
	}
	s.Publisher.Publish(s.Scope.Apply(e))
}
