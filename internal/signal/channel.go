package signal

import (
	"context"
	"encoding/json"
)

// Type identifies a signaling message
type Type string

const (
	// TypeJoin announces presence on the session topic. The initiator
	// holds its offer until the peer has announced, so the offer cannot
	// be published into an empty topic and lost.
	TypeJoin      Type = "join"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeChat      Type = "chat"
	TypeBye       Type = "bye"
)

// Message is the wire shape exchanged between the two parties of a
// session. Data is opaque to the channel and round-trips unchanged:
// an SDP description for offer/answer, an ICE candidate, or a chat
// payload.
type Message struct {
	Type Type            `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Channel delivers messages between the parties subscribed to a topic.
// Publish is fire-and-forget: it never blocks on the remote party being
// present, delivery is at-most-once and ordering across message types is
// best-effort only.
type Channel interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is one party's attachment to a topic. Close is idempotent
// and releases the underlying resources; Messages is closed afterwards.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}
