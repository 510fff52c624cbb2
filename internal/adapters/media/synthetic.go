package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

const (
	syntheticVideoInterval = 33 * time.Millisecond
	syntheticAudioInterval = 20 * time.Millisecond
)

// SyntheticDevices produces tracks fed with filler samples. Camera and
// Microphone say which devices "exist"; Fail, when set, is returned for
// every request instead.
type SyntheticDevices struct {
	Camera     bool
	Microphone bool
	Fail       error

	mu     sync.Mutex
	opened []*Track
}

func NewSyntheticDevices() *SyntheticDevices {
	return &SyntheticDevices{Camera: true, Microphone: true}
}

func (d *SyntheticDevices) GetUserMedia(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	if d.Fail != nil {
		return nil, d.Fail
	}
	if c.Video == nil && c.Audio == nil {
		return nil, fmt.Errorf("empty constraints: %w", domain.ErrConstraintUnsupported)
	}
	if c.Video != nil && !d.Camera {
		return nil, fmt.Errorf("camera: %w", domain.ErrDeviceNotFound)
	}
	if c.Audio != nil && !d.Microphone {
		return nil, fmt.Errorf("microphone: %w", domain.ErrDeviceNotFound)
	}

	streamID := "synthetic-" + uuid.NewString()[:8]
	var tracks []core.LocalTrack
	if c.Video != nil {
		t, err := newSyntheticTrack(ctx, core.TrackVideo, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Audio != nil {
		t, err := newSyntheticTrack(ctx, core.TrackAudio, streamID)
		if err != nil {
			for _, prev := range tracks {
				prev.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}

	d.mu.Lock()
	for _, t := range tracks {
		d.opened = append(d.opened, t.(*Track))
	}
	d.mu.Unlock()

	log.Debug().Str("module", "adapters.media").Str("stream", streamID).Int("tracks", len(tracks)).Msg("synthetic stream opened")
	return core.NewLocalStream(streamID, tracks...), nil
}

// Open is the number of tracks handed out and not yet stopped.
func (d *SyntheticDevices) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.opened {
		if t.Live() {
			n++
		}
	}
	return n
}

func newSyntheticTrack(ctx context.Context, kind core.TrackKind, streamID string) (*Track, error) {
	var (
		capability webrtc.RTPCodecCapability
		interval   time.Duration
		frame      []byte
	)
	switch kind {
	case core.TrackVideo:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		interval = syntheticVideoInterval
		frame = make([]byte, 1000)
	default:
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		interval = syntheticAudioInterval
		// Opus TOC for a 20ms silence frame.
		frame = []byte{0xf8, 0xff, 0xfe}
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.NewString()[:8], streamID)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := NewTrack(kind, local, cancel)
	go writeSamples(loopCtx, t, local, frame, interval)
	return t, nil
}

func writeSamples(ctx context.Context, t *Track, local *webrtc.TrackLocalStaticSample, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := local.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
				log.Debug().Str("module", "adapters.media").Str("track", t.ID()).Err(err).Msg("write sample")
			}
		}
	}
}
