package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

func avConstraints() core.Constraints {
	return core.Constraints{Video: &core.VideoConstraints{}, Audio: &core.AudioConstraints{}}
}

func TestSyntheticOpensRequestedKinds(t *testing.T) {
	d := NewSyntheticDevices()

	stream, err := d.GetUserMedia(context.Background(), avConstraints())
	require.NoError(t, err)
	assert.True(t, stream.HasKind(core.TrackVideo))
	assert.True(t, stream.HasKind(core.TrackAudio))
	assert.Equal(t, 2, d.Open())

	audio, err := d.GetUserMedia(context.Background(), core.Constraints{Audio: &core.AudioConstraints{}})
	require.NoError(t, err)
	assert.False(t, audio.HasKind(core.TrackVideo))
	assert.Equal(t, 3, d.Open())

	stream.Stop()
	audio.Stop()
	assert.False(t, stream.Live())
	assert.Zero(t, d.Open())
}

func TestSyntheticMissingDevices(t *testing.T) {
	d := &SyntheticDevices{Microphone: true}

	_, err := d.GetUserMedia(context.Background(), avConstraints())
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	stream, err := d.GetUserMedia(context.Background(), core.Constraints{Audio: &core.AudioConstraints{}})
	require.NoError(t, err)
	defer stream.Stop()
	assert.Len(t, stream.Tracks(), 1)
}

func TestSyntheticFail(t *testing.T) {
	denied := errors.New("denied by user")
	d := &SyntheticDevices{Camera: true, Microphone: true, Fail: denied}
	_, err := d.GetUserMedia(context.Background(), avConstraints())
	assert.ErrorIs(t, err, denied)
	assert.Zero(t, d.Open())
}

func TestTrackEnableListeners(t *testing.T) {
	d := NewSyntheticDevices()
	stream, err := d.GetUserMedia(context.Background(), core.Constraints{Video: &core.VideoConstraints{}})
	require.NoError(t, err)
	track := stream.TracksOf(core.TrackVideo)[0]

	var seen []bool
	track.OnEnabledChange(func(enabled bool) { seen = append(seen, enabled) })

	assert.True(t, track.Enabled())
	track.SetEnabled(false)
	track.SetEnabled(false)
	track.SetEnabled(true)
	assert.Equal(t, []bool{false, true}, seen)

	track.Stop()
	track.Stop()
	track.SetEnabled(false)
	assert.False(t, track.Live())
	assert.False(t, track.Enabled())
	assert.Len(t, seen, 2)
}

func TestTrackListenerAddedDuringChange(t *testing.T) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stream")
	require.NoError(t, err)
	track := NewTrack(core.TrackAudio, local, nil)

	var late []bool
	track.OnEnabledChange(func(bool) {
		track.OnEnabledChange(func(enabled bool) { late = append(late, enabled) })
	})

	track.SetEnabled(false)
	assert.Empty(t, late, "listeners registered during a change see the next one")
	track.SetEnabled(true)
	assert.Equal(t, []bool{true}, late)
}
