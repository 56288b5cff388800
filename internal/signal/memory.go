package signal

import (
	"context"
	"sync"
)

var _ Channel = (*MemoryChannel)(nil)

// MemoryChannel is an in-process Channel for tests. Two sessions sharing
// the same MemoryChannel exchange messages without any network, with the
// same at-most-once, drop-when-full semantics as the Redis implementation.
type MemoryChannel struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{topics: make(map[string]map[*memorySubscription]struct{})}
}

func (c *MemoryChannel) Publish(_ context.Context, topic string, msg Message) error {
	c.mu.Lock()
	subs := make([]*memorySubscription, 0, len(c.topics[topic]))
	for sub := range c.topics[topic] {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

func (c *MemoryChannel) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		channel: c,
		topic:   topic,
		out:     make(chan Message, subscriberBuffer),
	}

	c.mu.Lock()
	if c.topics[topic] == nil {
		c.topics[topic] = make(map[*memorySubscription]struct{})
	}
	c.topics[topic][sub] = struct{}{}
	c.mu.Unlock()

	return sub, nil
}

func (c *MemoryChannel) remove(sub *memorySubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subs, ok := c.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(c.topics, sub.topic)
		}
	}
}

type memorySubscription struct {
	channel *MemoryChannel
	topic   string

	mu     sync.Mutex
	out    chan Message
	closed bool
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.channel.remove(s)
	close(s.out)
	return nil
}
