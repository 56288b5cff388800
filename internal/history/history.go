// Package history persists session records so ended sessions can still
// be looked up for moderation and stats.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hup-social/connect/internal/models"
)

const (
	recordKeyPrefix = "session:"
	recordTTL       = 24 * time.Hour
)

// ErrNotFound is returned when no record exists for a session ID.
var ErrNotFound = errors.New("session record not found")

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Started writes the record for a freshly minted match.
func (s *Store) Started(ctx context.Context, record models.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	if err := s.client.Set(ctx, recordKeyPrefix+record.ID, data, recordTTL).Err(); err != nil {
		return fmt.Errorf("storing session record: %w", err)
	}
	return nil
}

// Ended closes the record with a reason and final message count. Ending
// an unknown or already-ended session is a no-op.
func (s *Store) Ended(ctx context.Context, id, reason string, messageCount int) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if record.EndedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	record.EndedAt = &now
	record.EndReason = reason
	if messageCount > record.MessageCount {
		record.MessageCount = messageCount
	}
	return s.Started(ctx, *record)
}

func (s *Store) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	raw, err := s.client.Get(ctx, recordKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session record: %w", err)
	}

	var record models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("parsing session record: %w", err)
	}
	return &record, nil
}
