// Package match pairs two independent searchers into a single session
// with deterministic initiator assignment. The claimer of a queued entry
// becomes the initiator; the claimed side learns about the match through
// the store's notification feed.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hup-social/connect/internal/models"
	"github.com/hup-social/connect/internal/queue"
)

// MatchmakingError wraps a queue store failure. It is retryable: the
// caller surfaces a "failed to start search" state rather than treating
// the session as dead.
type MatchmakingError struct {
	Op  string
	Err error
}

func (e *MatchmakingError) Error() string {
	return fmt.Sprintf("matchmaking: %s: %v", e.Op, e.Err)
}

func (e *MatchmakingError) Unwrap() error { return e.Err }

// Pending is a search waiting to be claimed by another party. Matches
// carries at most one match; Stop releases the notification feed and is
// idempotent.
type Pending struct {
	Matches <-chan models.Match
	stop    func()
}

func (p *Pending) Stop() { p.stop() }

type Matchmaker struct {
	store  queue.Store
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Matchmaker whose queue entries live for ttl. A caller
// still pending past that window will never be claimed and should
// restart the search.
func New(store queue.Store, ttl time.Duration, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{store: store, ttl: ttl, logger: logger}
}

// TTL returns the queue entry lifetime, which bounds any pending wait.
func (m *Matchmaker) TTL() time.Duration { return m.ttl }

// Search either claims a waiting peer (immediate match, caller is the
// initiator) or enqueues the caller and returns a Pending whose feed
// delivers the match once somebody claims it (caller is not the
// initiator). Exactly one of the two results is non-nil on success.
//
// A lost claim race is not an error: the caller falls back to the queue
// like any other searcher.
func (m *Matchmaker) Search(ctx context.Context, selfID, intent string) (*models.Match, *Pending, error) {
	entry, found, err := m.store.FindCandidate(ctx, selfID, intent)
	if err != nil {
		return nil, nil, &MatchmakingError{Op: "find candidate", Err: err}
	}

	if found {
		claimed, err := m.store.Claim(ctx, entry.PeerID, entry.ID)
		if err != nil {
			return nil, nil, &MatchmakingError{Op: "claim", Err: err}
		}
		if claimed {
			sessionID := uuid.NewString()
			peerMatch := models.Match{
				SessionID:   sessionID,
				PeerID:      selfID,
				IsInitiator: false,
			}
			if err := m.store.NotifyMatch(ctx, entry.PeerID, peerMatch); err != nil {
				// The claimed entry is gone but the peer will never hear
				// about the session. Abandon it; the peer re-enters the
				// queue when its pending wait expires.
				return nil, nil, &MatchmakingError{Op: "notify peer", Err: err}
			}
			m.logger.Info("claimed waiting peer", "self", selfID, "peer", entry.PeerID, "session", sessionID)
			return &models.Match{
				SessionID:   sessionID,
				PeerID:      entry.PeerID,
				IsInitiator: true,
			}, nil, nil
		}
		m.logger.Debug("lost claim race, enqueueing", "self", selfID, "peer", entry.PeerID)
	}

	// Watch before enqueueing so a claim that lands immediately after the
	// insert cannot slip past the feed.
	matches, stop, err := m.store.WatchMatches(ctx, selfID)
	if err != nil {
		return nil, nil, &MatchmakingError{Op: "watch matches", Err: err}
	}

	err = m.store.Enqueue(ctx, queue.Entry{
		ID:        uuid.NewString(),
		PeerID:    selfID,
		Intent:    intent,
		ExpiresAt: time.Now().Add(m.ttl),
	})
	if err != nil {
		stop()
		return nil, nil, &MatchmakingError{Op: "enqueue", Err: err}
	}

	m.logger.Info("enqueued for matching", "self", selfID, "intent", intent)
	return nil, &Pending{Matches: matches, stop: stop}, nil
}

// Cancel removes any queue entry owned by selfID. Safe to call when no
// entry exists.
func (m *Matchmaker) Cancel(ctx context.Context, selfID string) error {
	if err := m.store.Remove(ctx, selfID); err != nil {
		return &MatchmakingError{Op: "cancel", Err: err}
	}
	return nil
}
