package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBroker relays envelopes through Redis pub/sub channels named
// prefix+topic.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBroker connects to addr and verifies the connection.
func NewRedisBroker(ctx context.Context, addr string, logger *slog.Logger) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "could not connect to redis at %s", addr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{rdb: rdb, prefix: "collab:room:", logger: logger}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if err := b.rdb.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.prefix+topic)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	s := &redisSub{pubsub: pubsub, ch: make(chan Envelope, subscriptionBuffer)}
	go s.relay(b.logger)
	return s, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan Envelope
	once   sync.Once
}

func (s *redisSub) relay(logger *slog.Logger) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logger.Warn("dropping malformed envelope", "channel", msg.Channel, "err", err)
			continue
		}
		s.ch <- env
	}
}

func (s *redisSub) C() <-chan Envelope { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	return err
}
