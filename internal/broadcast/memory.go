package broadcast

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
)

const defaultBuffer = 256

// ErrClosed is returned after the broadcaster is closed.
var ErrClosed = errors.New("broadcaster closed")

// MemoryBroadcaster fans messages out to in-process subscribers. A
// subscriber whose buffer is full misses the message instead of blocking the
// publisher.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	buffer int
}

// NewMemoryBroadcaster creates an in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[string]map[*memorySub]struct{}), buffer: defaultBuffer}
}

// Publish implements Broadcaster.
func (b *MemoryBroadcaster) Publish(_ context.Context, channel string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- msg:
		default:
			logger.Named("broadcast").Warn("subscriber buffer full, message dropped",
				zap.String("channel", channel),
				zap.String("event_type", msg.EventType))
		}
	}
	return nil
}

// Subscribe implements Broadcaster. The subscription also ends when ctx does.
func (b *MemoryBroadcaster) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{b: b, channel: channel, ch: make(chan Message, b.buffer)}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	context.AfterFunc(ctx, func() { _ = sub.Close() })
	return sub, nil
}

// Close implements Broadcaster and ends every subscription.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	b.subs = nil
	return nil
}

type memorySub struct {
	b       *MemoryBroadcaster
	channel string
	ch      chan Message
	once    sync.Once
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if subs := s.b.subs[s.channel]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.b.subs, s.channel)
		}
	}
	s.closeLocked()
	return nil
}

func (s *memorySub) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
