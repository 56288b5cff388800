package models

import "time"

// SessionRecord stores metadata about a random-connect session
type SessionRecord struct {
	ID           string     `json:"id"`
	User1ID      string     `json:"user1Id"` // initiator
	User2ID      string     `json:"user2Id"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	EndReason    string     `json:"endReason,omitempty"` // "next", "stop", "peer_left", "error"
	MessageCount int        `json:"messageCount"`
}

// Duration returns the session length, zero while the session is live.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
