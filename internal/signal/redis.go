package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

var _ Channel = (*RedisChannel)(nil)

// subscriberBuffer bounds the per-subscription inbox. A receiver that
// falls this far behind starts losing messages, which matches the
// at-most-once contract of the channel.
const subscriberBuffer = 64

// RedisChannel implements Channel over Redis pub/sub. Each session topic
// maps to one Redis channel, so two parties paired through different
// server instances still share a signaling path.
type RedisChannel struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisChannel(client *redis.Client, logger *slog.Logger) *RedisChannel {
	return &RedisChannel{client: client, logger: logger}
}

func (c *RedisChannel) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling signal message: %w", err)
	}
	if err := c.client.Publish(ctx, "signal:"+topic, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := c.client.Subscribe(ctx, "signal:"+topic)

	// Force the SUBSCRIBE round-trip so a Publish immediately after
	// Subscribe returns cannot be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, subscriberBuffer),
	}
	go sub.pump(c.logger, topic)
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan Message
	closeOnce sync.Once
}

func (s *redisSubscription) pump(logger *slog.Logger, topic string) {
	defer close(s.out)
	for raw := range s.pubsub.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			logger.Warn("dropping malformed signal message", "topic", topic, "error", err)
			continue
		}
		select {
		case s.out <- msg:
		default:
			logger.Warn("subscriber behind, dropping signal message", "topic", topic, "type", msg.Type)
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
