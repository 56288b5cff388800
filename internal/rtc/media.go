package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Media is the local capture source attached to a connection. A text-only
// session has no media and passes nil.
type Media interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

var _ Media = (*SampleMedia)(nil)

// SampleMedia is a headless media source: one VP8 video track and one
// Opus audio track fed by the application via WriteSample on the
// underlying tracks. It stands in for camera capture on peers without
// capture hardware.
type SampleMedia struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample
}

func NewSampleMedia(streamID string) (*SampleMedia, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("creating video track: %w", err)}
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, &MediaAcquisitionError{Err: fmt.Errorf("creating audio track: %w", err)}
	}

	return &SampleMedia{video: video, audio: audio}, nil
}

func (m *SampleMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.video, m.audio}
}

// Video returns the writable video track.
func (m *SampleMedia) Video() *webrtc.TrackLocalStaticSample { return m.video }

// Audio returns the writable audio track.
func (m *SampleMedia) Audio() *webrtc.TrackLocalStaticSample { return m.audio }

func (m *SampleMedia) Close() error { return nil }
