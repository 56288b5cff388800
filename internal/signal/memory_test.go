package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message arrived")
		return Message{}
	}
}

func TestPublishReachesAllTopicSubscribers(t *testing.T) {
	ctx := context.Background()
	channel := NewMemoryChannel()

	a, err := channel.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer a.Close()
	b, err := channel.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer b.Close()

	sent := Message{Type: TypeOffer, From: "alice", Data: json.RawMessage(`{"sdp":"x"}`)}
	if err := channel.Publish(ctx, "s1", sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []Subscription{a, b} {
		got := recv(t, sub)
		if got.Type != sent.Type || got.From != sent.From || string(got.Data) != string(sent.Data) {
			t.Fatalf("message did not round-trip: %+v", got)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	channel := NewMemoryChannel()

	other, err := channel.Subscribe(ctx, "s2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer other.Close()

	if err := channel.Publish(ctx, "s1", Message{Type: TypeBye, From: "alice"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-other.Messages():
		t.Fatalf("message leaked across topics: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	channel := NewMemoryChannel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		channel.Publish(context.Background(), "nobody-home", Message{Type: TypeOffer, From: "alice"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an empty topic")
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	ctx := context.Background()
	channel := NewMemoryChannel()

	sub, err := channel.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close errored: %v", err)
	}

	// Publishing after close must not panic or deliver.
	if err := channel.Publish(ctx, "s1", Message{Type: TypeOffer, From: "alice"}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatal("closed subscription delivered a message")
	}
}
