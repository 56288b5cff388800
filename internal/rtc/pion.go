package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

var _ Conn = (*PionConn)(nil)

// PionConn is the pion/webrtc-backed Conn. Tracks from the local media
// source are attached at construction so they are part of the SDP;
// without media, recvonly transceivers keep the offer/answer valid.
type PionConn struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger
}

func NewPionConn(iceServers []string, media Media, logger *slog.Logger) (*PionConn, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	if media != nil {
		for _, track := range media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("adding local track %s: %w", track.ID(), err)
			}
		}
	} else {
		// No local media: recvonly transceivers so CreateOffer and
		// CreateAnswer still produce valid m-lines.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("adding %s transceiver: %w", kind, err)
			}
		}
	}

	return &PionConn{pc: pc, logger: logger}, nil
}

func (c *PionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *PionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *PionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *PionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *PionConn) RemoteDescriptionSet() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *PionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *PionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// End of gathering.
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *PionConn) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Debug("remote track", "kind", track.Kind().String(), "id", track.ID())
		fn(track)
	})
}

func (c *PionConn) OnStateChange(fn func(State)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state", "state", state.String())
		fn(mapState(state))
	})
}

func (c *PionConn) Close() error {
	return c.pc.Close()
}

func mapState(state webrtc.PeerConnectionState) State {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}
