package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is one captured source. Owned by the device backend that created it.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnabledChange lets the negotiator follow mute/unmute.
	OnEnabledChange(fn func(enabled bool))
	// Stop releases the device. Live reports false afterwards.
	Stop()
	Live() bool
	// RTC returns the track to bind to a PeerConnection.
	RTC() webrtc.TrackLocal
}

// VideoConstraints are ideal values; zero means "any".
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate float64
}

type AudioConstraints struct {
	NoiseSuppression bool
	EchoCancellation bool
}

// Constraints describes one capture attempt. A nil kind is not requested.
type Constraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// MediaDevices opens local sources. Failures should wrap domain.ErrPermissionDenied,
// domain.ErrDeviceNotFound or domain.ErrConstraintUnsupported when known.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error)
}
