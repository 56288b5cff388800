package queue

import (
	"context"
	"time"

	"github.com/hup-social/connect/internal/models"
)

// Entry is one waiting searcher. Entries are keyed by peer: re-enqueueing
// replaces any previous entry for the same peer. An entry past ExpiresAt
// is stale and must never be handed out as a candidate.
type Entry struct {
	ID        string    `json:"id"`
	PeerID    string    `json:"peerId"`
	Intent    string    `json:"intent,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Compatible reports whether two intents may be paired. An empty intent
// matches anything.
func Compatible(a, b string) bool {
	return a == "" || b == "" || a == b
}

// Store is the waiting-peer queue. The production implementation lives in
// Redis; tests use MemoryStore.
//
// Claim is the critical operation: it must be a single atomic
// delete-and-check so that of any number of concurrent claimers of the
// same entry exactly one wins. A read-then-delete sequence is not an
// acceptable implementation.
type Store interface {
	// Enqueue inserts the entry, replacing any existing entry owned by
	// the same peer.
	Enqueue(ctx context.Context, entry Entry) error

	// FindCandidate returns one non-expired entry owned by a different
	// peer than excludePeerID with a compatible intent. The boolean is
	// false when nobody suitable is waiting.
	FindCandidate(ctx context.Context, excludePeerID, intent string) (Entry, bool, error)

	// Claim atomically removes the entry identified by (peerID, entryID).
	// It returns true only for the single caller that performed the
	// removal; a lost race returns false with no error.
	Claim(ctx context.Context, peerID, entryID string) (bool, error)

	// Remove deletes any entry owned by peerID. Removing an absent entry
	// is a no-op.
	Remove(ctx context.Context, peerID string) error

	// NotifyMatch delivers a match to the peer that was claimed out of
	// the queue.
	NotifyMatch(ctx context.Context, peerID string, match models.Match) error

	// WatchMatches subscribes to match notifications addressed to peerID.
	// The returned stop function is idempotent and closes the channel.
	WatchMatches(ctx context.Context, peerID string) (<-chan models.Match, func(), error)
}
