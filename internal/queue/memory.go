package queue

import (
	"context"
	"sync"
	"time"

	"github.com/hup-social/connect/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests. Semantics match the Redis
// implementation: entries are keyed by peer, claims are atomic under the
// store lock, expired entries are never returned and are swept lazily on
// read.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]Entry // keyed by peer ID
	watchers map[string][]chan models.Match

	// now is swappable so tests can control expiry.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		watchers: make(map[string][]chan models.Match),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Enqueue(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.PeerID] = entry
	return nil
}

func (s *MemoryStore) FindCandidate(_ context.Context, excludePeerID, intent string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for peerID, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, peerID)
			continue
		}
		if peerID == excludePeerID || !Compatible(intent, entry.Intent) {
			continue
		}
		return entry, true, nil
	}
	return Entry{}, false, nil
}

func (s *MemoryStore) Claim(_ context.Context, peerID, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[peerID]
	if !ok || entry.ID != entryID {
		return false, nil
	}
	if !entry.ExpiresAt.After(s.now()) {
		delete(s.entries, peerID)
		return false, nil
	}
	delete(s.entries, peerID)
	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, peerID)
	return nil
}

func (s *MemoryStore) NotifyMatch(_ context.Context, peerID string, match models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delivery happens under the store lock so a concurrent stop cannot
	// close a channel mid-send. Sends are non-blocking into buffered
	// channels, so holding the lock is safe.
	for _, ch := range s.watchers[peerID] {
		select {
		case ch <- match:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) WatchMatches(_ context.Context, peerID string) (<-chan models.Match, func(), error) {
	ch := make(chan models.Match, 1)

	s.mu.Lock()
	s.watchers[peerID] = append(s.watchers[peerID], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			watchers := s.watchers[peerID]
			for i, c := range watchers {
				if c == ch {
					s.watchers[peerID] = append(watchers[:i], watchers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, stop, nil
}
