package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hup-social/connect/internal/models"
)

var _ Store = (*RedisStore)(nil)

const (
	entryKeyPrefix = "queue:entry:"
	waitingSetKey  = "queue:waiting"
	matchKeyPrefix = "matches:"
)

// claimScript deletes an entry only if it still holds the expected entry
// ID. Running as a Lua script makes the compare-and-delete a single
// atomic step on the Redis side, so two racing claimers can never both
// see success.
var claimScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  redis.call('SREM', KEYS[2], ARGV[2])
  return 0
end
local entry = cjson.decode(raw)
if entry.id ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// candidateScanCount bounds how many waiting peers one FindCandidate call
// inspects. The queue is expected to drain fast; scanning a handful is
// enough and keeps the call O(1).
const candidateScanCount = 8

// RedisStore keeps waiting entries as JSON values with a TTL equal to the
// entry expiry, plus a set indexing the waiting peer IDs. Expiry is
// enforced by Redis itself: an expired entry's key is gone, so it can
// never be returned as a candidate. The index set is cleaned lazily when
// a dangling member is encountered.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Enqueue(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling queue entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("queue entry for %s already expired", entry.PeerID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKeyPrefix+entry.PeerID, data, ttl)
	pipe.SAdd(ctx, waitingSetKey, entry.PeerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing queue entry: %w", err)
	}
	return nil
}

func (s *RedisStore) FindCandidate(ctx context.Context, excludePeerID, intent string) (Entry, bool, error) {
	peerIDs, err := s.client.SRandMemberN(ctx, waitingSetKey, candidateScanCount).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("listing waiting peers: %w", err)
	}

	for _, peerID := range peerIDs {
		if peerID == excludePeerID {
			continue
		}
		raw, err := s.client.Get(ctx, entryKeyPrefix+peerID).Result()
		if err == redis.Nil {
			// Entry expired out from under the index.
			s.client.SRem(ctx, waitingSetKey, peerID)
			continue
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("reading queue entry for %s: %w", peerID, err)
		}

		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("dropping malformed queue entry", "peer", peerID, "error", err)
			s.client.Del(ctx, entryKeyPrefix+peerID)
			s.client.SRem(ctx, waitingSetKey, peerID)
			continue
		}
		if !Compatible(intent, entry.Intent) {
			continue
		}
		return entry, true, nil
	}
	return Entry{}, false, nil
}

func (s *RedisStore) Claim(ctx context.Context, peerID, entryID string) (bool, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{entryKeyPrefix + peerID, waitingSetKey},
		entryID, peerID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("claiming queue entry for %s: %w", peerID, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, peerID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKeyPrefix+peerID)
	pipe.SRem(ctx, waitingSetKey, peerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing queue entry for %s: %w", peerID, err)
	}
	return nil
}

func (s *RedisStore) NotifyMatch(ctx context.Context, peerID string, match models.Match) error {
	data, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("marshaling match: %w", err)
	}
	if err := s.client.Publish(ctx, matchKeyPrefix+peerID, data).Err(); err != nil {
		return fmt.Errorf("notifying %s: %w", peerID, err)
	}
	return nil
}

func (s *RedisStore) WatchMatches(ctx context.Context, peerID string) (<-chan models.Match, func(), error) {
	pubsub := s.client.Subscribe(ctx, matchKeyPrefix+peerID)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("watching matches for %s: %w", peerID, err)
	}

	out := make(chan models.Match, 1)
	go func() {
		defer close(out)
		for raw := range pubsub.Channel() {
			var match models.Match
			if err := json.Unmarshal([]byte(raw.Payload), &match); err != nil {
				s.logger.Warn("dropping malformed match notification", "peer", peerID, "error", err)
				continue
			}
			select {
			case out <- match:
			default:
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() { pubsub.Close() })
	}
	return out, stop, nil
}
