package match

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchEmptyQueueEnqueues(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mm := New(store, time.Minute, discardLogger())

	found, pending, err := mm.Search(ctx, "alice", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found != nil {
		t.Fatalf("empty queue produced an immediate match: %+v", found)
	}
	if pending == nil {
		t.Fatal("expected a pending search")
	}
	defer pending.Stop()

	// alice should now be claimable by another searcher.
	entry, ok, err := store.FindCandidate(ctx, "bob", "")
	if err != nil || !ok {
		t.Fatalf("alice not enqueued: ok=%v err=%v", ok, err)
	}
	if entry.PeerID != "alice" {
		t.Fatalf("unexpected queue entry %+v", entry)
	}
}

func TestSearchClaimsWaitingPeer(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mm := New(store, time.Minute, discardLogger())

	_, alicePending, err := mm.Search(ctx, "alice", "")
	if err != nil {
		t.Fatalf("alice Search: %v", err)
	}
	defer alicePending.Stop()

	bobMatch, bobPending, err := mm.Search(ctx, "bob", "")
	if err != nil {
		t.Fatalf("bob Search: %v", err)
	}
	if bobPending != nil {
		t.Fatal("bob should have matched immediately")
	}
	if bobMatch == nil {
		t.Fatal("bob got no match")
	}
	if !bobMatch.IsInitiator {
		t.Fatal("claimer must be the initiator")
	}
	if bobMatch.PeerID != "alice" {
		t.Fatalf("bob matched %q, want alice", bobMatch.PeerID)
	}

	var aliceMatch models.Match
	select {
	case aliceMatch = <-alicePending.Matches:
	case <-time.After(time.Second):
		t.Fatal("alice never notified of the match")
	}

	// Both sides agree on the session; exactly one is the initiator.
	if aliceMatch.SessionID != bobMatch.SessionID {
		t.Fatalf("session IDs disagree: %q vs %q", aliceMatch.SessionID, bobMatch.SessionID)
	}
	if aliceMatch.IsInitiator {
		t.Fatal("both sides are initiators")
	}
	if aliceMatch.PeerID != "bob" {
		t.Fatalf("alice matched %q, want bob", aliceMatch.PeerID)
	}

	// The claimed entry is gone.
	if _, ok, _ := store.FindCandidate(ctx, "carol", ""); ok {
		t.Fatal("claimed entry still in queue")
	}
}

func TestSearchLostClaimFallsBack(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mm := New(store, time.Minute, discardLogger())

	// A candidate that will be claimed out from under the searcher.
	err := store.Enqueue(ctx, queue.Entry{
		ID:        "e1",
		PeerID:    "alice",
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if claimed, _ := store.Claim(ctx, "alice", "e1"); !claimed {
		t.Fatal("setup claim failed")
	}

	found, pending, err := mm.Search(ctx, "bob", "")
	if err != nil {
		t.Fatalf("a lost race must not error: %v", err)
	}
	if found != nil {
		t.Fatal("bob matched a claimed entry")
	}
	if pending == nil {
		t.Fatal("bob should have fallen back to the queue")
	}
	pending.Stop()
}

func TestSearchStoreError(t *testing.T) {
	mm := New(failingStore{}, time.Minute, discardLogger())

	found, pending, err := mm.Search(context.Background(), "alice", "")
	if found != nil || pending != nil {
		t.Fatal("a store error must not produce a result")
	}

	var merr *MatchmakingError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MatchmakingError, got %T: %v", err, err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mm := New(store, time.Minute, discardLogger())

	if err := mm.Cancel(ctx, "alice"); err != nil {
		t.Fatalf("cancel with no entry errored: %v", err)
	}

	if _, pending, err := mm.Search(ctx, "alice", ""); err != nil || pending == nil {
		t.Fatalf("Search: pending=%v err=%v", pending, err)
	}
	if err := mm.Cancel(ctx, "alice"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := mm.Cancel(ctx, "alice"); err != nil {
		t.Fatalf("second Cancel errored: %v", err)
	}

	if _, ok, _ := store.FindCandidate(ctx, "bob", ""); ok {
		t.Fatal("cancelled entry still in queue")
	}
}

func TestSearchIntentPairing(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	mm := New(store, time.Minute, discardLogger())

	_, alicePending, err := mm.Search(ctx, "alice", "gaming")
	if err != nil {
		t.Fatalf("alice Search: %v", err)
	}
	defer alicePending.Stop()

	// Incompatible intent: bob queues instead of claiming alice.
	bobMatch, bobPending, err := mm.Search(ctx, "bob", "dating")
	if err != nil {
		t.Fatalf("bob Search: %v", err)
	}
	if bobMatch != nil {
		t.Fatal("incompatible intents were paired")
	}
	bobPending.Stop()
	if err := mm.Cancel(ctx, "bob"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Compatible intent claims alice.
	carolMatch, _, err := mm.Search(ctx, "carol", "gaming")
	if err != nil {
		t.Fatalf("carol Search: %v", err)
	}
	if carolMatch == nil || carolMatch.PeerID != "alice" {
		t.Fatalf("carol should have claimed alice, got %+v", carolMatch)
	}
}

// failingStore errors on every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Enqueue(context.Context, queue.Entry) error { return errStoreDown }
func (failingStore) FindCandidate(context.Context, string, string) (queue.Entry, bool, error) {
	return queue.Entry{}, false, errStoreDown
}
func (failingStore) Claim(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}
func (failingStore) Remove(context.Context, string) error { return errStoreDown }
func (failingStore) NotifyMatch(context.Context, string, models.Match) error {
	return errStoreDown
}
func (failingStore) WatchMatches(context.Context, string) (<-chan models.Match, func(), error) {
	return nil, nil, errStoreDown
}
