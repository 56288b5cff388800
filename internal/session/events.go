package session

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hup-social/connect/internal/models"
)

// EventKind discriminates the session event feed.
type EventKind int

const (
	// KindStatus reports a lifecycle transition. Every transition is
	// emitted; there are no silent state changes.
	KindStatus EventKind = iota
	// KindChat carries a text message from the peer.
	KindChat
	// KindTrack reports an incoming remote media track.
	KindTrack
)

// Event is one entry on the session's feed to the presentation layer.
type Event struct {
	Kind   EventKind
	Status models.Status // KindStatus
	Reason string        // KindStatus, set when Status is failed
	Match  *models.Match // KindStatus, set from matched onwards
	Chat   *ChatMessage  // KindChat
	Track  *webrtc.TrackRemote
}

// ChatMessage is an in-session text message.
type ChatMessage struct {
	From   string    `json:"-"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}
