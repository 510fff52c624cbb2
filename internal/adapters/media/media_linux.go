//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// SystemDevices captures from V4L2 cameras and malgo microphones.
type SystemDevices struct {
	selector *mediadevices.CodecSelector
}

func NewSystemDevices() (*SystemDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &SystemDevices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the encoders' codecs on a media engine.
func (d *SystemDevices) Populate(m *webrtc.MediaEngine) {
	d.selector.Populate(m)
}

func (d *SystemDevices) GetUserMedia(_ context.Context, c core.Constraints) (*core.LocalStream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if v := c.Video; v != nil {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes can feed malformed frames into the VP8 encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if v.Width > 0 {
				mc.Width = prop.Int(v.Width)
			}
			if v.Height > 0 {
				mc.Height = prop.Int(v.Height)
			}
			if v.FrameRate > 0 {
				mc.FrameRate = prop.Float(v.FrameRate)
			}
		}
	}
	if a := c.Audio; a != nil {
		if a.NoiseSuppression || a.EchoCancellation {
			log.Debug().Str("module", "adapters.media").Msg("audio processing not available on this backend")
		}
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifySystemError(c, err)
	}

	streamID := "system-" + uuid.NewString()[:8]
	var tracks []core.LocalTrack
	for _, mt := range stream.GetTracks() {
		mt := mt
		kind := core.TrackAudio
		if mt.Kind() == webrtc.RTPCodecTypeVideo {
			kind = core.TrackVideo
		}
		mt.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Str("module", "adapters.media").Str("track", mt.ID()).Err(err).Msg("local track ended")
			}
		})
		tracks = append(tracks, NewTrack(kind, mt, func() { _ = mt.Close() }))
	}
	log.Info().Str("module", "adapters.media").Str("stream", streamID).Int("tracks", len(tracks)).Msg("system stream opened")
	return core.NewLocalStream(streamID, tracks...), nil
}

func classifySystemError(c core.Constraints, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	var haveVideo, haveAudio bool
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			haveVideo = true
		case mediadevices.AudioInput:
			haveAudio = true
		}
	}
	if (c.Video != nil && !haveVideo) || (c.Audio != nil && !haveAudio) {
		return fmt.Errorf("%w: %v", domain.ErrDeviceNotFound, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConstraintUnsupported, err)
}
