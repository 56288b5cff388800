package models

// Status is the lifecycle of one random-connect session as seen by the
// presentation layer.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSearching Status = "searching"
	StatusMatched   Status = "matched"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

// Match pairs two searchers. The session ID doubles as the signaling
// channel topic; exactly one side of a pair is the initiator and sends
// the first offer.
type Match struct {
	SessionID   string `json:"sessionId"`
	PeerID      string `json:"peerId"`
	IsInitiator bool   `json:"isInitiator"`
}
