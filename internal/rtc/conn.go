// Package rtc wraps the peer connection primitive used to establish the
// media path. The production implementation sits on pion/webrtc; tests
// script a fake against the same interface.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// State is the connection lifecycle reported to the session layer.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the connection-negotiation surface the signaling coordinator
// drives. Callbacks must be registered before signaling starts; they are
// invoked from the connection's own goroutines.
//
// AddICECandidate may be called only after the remote description is set;
// the coordinator buffers earlier candidates.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescriptionSet() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(track *webrtc.TrackRemote))
	OnStateChange(fn func(State))
	Close() error
}

// MediaAcquisitionError reports that local media could not be acquired.
// The search must not proceed to matchmaking when this happens.
type MediaAcquisitionError struct {
	Err error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("acquiring local media: %v", e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }
