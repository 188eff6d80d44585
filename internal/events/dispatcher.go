package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
)

type envelope struct {
	event   Event
	barrier chan struct{}
}

type namedHandler struct {
	name    string
	handler Handler
}

// Dispatcher is a multi-producer single-consumer mailbox.
type Dispatcher struct {
	mu       sync.Mutex
	queue    []envelope
	signal   chan struct{}
	handlers []namedHandler
	started  bool
	closed   bool
	done     chan struct{}
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher. Handlers run in registration order.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    logger.Named("events"),
	}
}

// Register adds a handler. It must be called before Start.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, namedHandler{name: name, handler: h})
}

// Start launches the consumer goroutine. The context is passed to handlers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run(ctx)
}

// Publish enqueues an event. It never blocks on the consumer.
func (d *Dispatcher) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("event published after close", zap.String("event_type", string(e.Type)), zap.String("event_id", e.ID))
		return
	}
	d.queue = append(d.queue, envelope{event: e})
	d.mu.Unlock()
	d.notify()
}

// Flush blocks until every event published before the call has been handled.
func (d *Dispatcher) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		select {
		case <-d.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.queue = append(d.queue, envelope{barrier: barrier})
	d.mu.Unlock()
	d.notify()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queue and waits for the consumer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	d.notify()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued, undelivered items.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		handlers := d.handlers
		d.mu.Unlock()

		for _, env := range batch {
			if env.barrier != nil {
				close(env.barrier)
				continue
			}
			d.deliver(ctx, handlers, env.event)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.signal
	}
}

func (d *Dispatcher) deliver(ctx context.Context, handlers []namedHandler, e Event) {
	for _, h := range handlers {
		if err := d.safeHandle(ctx, h, e); err != nil {
			d.log.Warn("event handler failed",
				zap.String("handler", h.name),
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, h namedHandler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.handler.Handle(ctx, e)
}
