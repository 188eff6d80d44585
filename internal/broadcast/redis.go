package broadcast

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"yqhp/orchestration-engine/pkg/logger"
)

// RedisBroadcaster publishes messages over redis pub/sub.
type RedisBroadcaster struct {
	client *redis.Client
	owned  bool
}

// NewRedisBroadcaster connects to addr and verifies the connection.
func NewRedisBroadcaster(ctx context.Context, addr, password string, db int) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBroadcaster{client: client, owned: true}, nil
}

// NewRedisBroadcasterWithClient uses an existing client; Close leaves it open.
func NewRedisBroadcasterWithClient(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

// Publish implements Broadcaster.
func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements Broadcaster. Undecodable payloads are logged and
// skipped.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	// 等待订阅确认，避免订阅前发布的消息丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSub{ps: ps, out: make(chan Message, defaultBuffer)}
	go sub.pump(ctx, channel)
	return sub, nil
}

// Close implements Broadcaster.
func (b *RedisBroadcaster) Close() error {
	if b.owned {
		return b.client.Close()
	}
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	once sync.Once
}

func (s *redisSub) Messages() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

func (s *redisSub) pump(ctx context.Context, channel string) {
	defer close(s.out)
	log := logger.Named("broadcast").With(zap.String("channel", channel))
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg, err := Decode([]byte(m.Payload))
			if err != nil {
				log.Warn("invalid broadcast payload", zap.Error(err))
				continue
			}
			select {
			case s.out <- msg:
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}
