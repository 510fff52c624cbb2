package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Telecall/internal/adapters/media"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

func offlineConfig() Config {
	cfg := DefaultConfig()
	cfg.ICEServers = nil
	cfg.IncludeLoopback = true
	return cfg
}

func newConn(t *testing.T) *WebRTCConnection {
	t.Helper()
	c, err := NewWebRTCConnection(context.Background(), offlineConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func syntheticStream(t *testing.T, c core.Constraints) *core.LocalStream {
	t.Helper()
	s, err := media.NewSyntheticDevices().GetUserMedia(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func avStream(t *testing.T) *core.LocalStream {
	return syntheticStream(t, core.Constraints{Video: &core.VideoConstraints{}, Audio: &core.AudioConstraints{}})
}

var hostCandidate = domain.Candidate{
	Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	SDPMid:    "0",
}

func TestOfferAnswerExchange(t *testing.T) {
	caller, callee := newConn(t), newConn(t)
	require.NoError(t, caller.AttachLocalMedia(avStream(t)))
	require.NoError(t, callee.AttachLocalMedia(avStream(t)))

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "m=audio")

	answer, err := callee.AcceptOfferAndCreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)

	require.NoError(t, caller.AcceptAnswer(answer))
	// A second delivery of the same answer is ignored.
	require.NoError(t, caller.AcceptAnswer(answer))
}

func TestAudioOnlyStillReceivesVideo(t *testing.T) {
	c := newConn(t)
	require.NoError(t, c.AttachLocalMedia(syntheticStream(t, core.Constraints{Audio: &core.AudioConstraints{}})))

	offer, err := c.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=recvonly")
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	caller, callee := newConn(t), newConn(t)
	require.NoError(t, caller.AttachLocalMedia(avStream(t)))
	require.NoError(t, callee.AttachLocalMedia(avStream(t)))

	require.NoError(t, callee.AddRemoteCandidate(hostCandidate))
	require.NoError(t, callee.AddRemoteCandidate(hostCandidate))
	assert.Equal(t, 2, callee.PendingCandidates())

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	_, err = callee.AcceptOfferAndCreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Zero(t, callee.PendingCandidates())

	require.NoError(t, callee.AddRemoteCandidate(hostCandidate))
	assert.Zero(t, callee.PendingCandidates())
}

func TestClosedConnectionRejectsWork(t *testing.T) {
	c := newConn(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.CreateOffer(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.AddRemoteCandidate(hostCandidate), ErrClosed)
}

func TestCandidateConversion(t *testing.T) {
	init := toICEInit(domain.Candidate{Candidate: "candidate:x", SDPMid: "1", SDPMLineIndex: 1})
	require.NotNil(t, init.SDPMid)
	require.NotNil(t, init.SDPMLineIndex)
	assert.Equal(t, "1", *init.SDPMid)
	assert.Equal(t, domain.Candidate{Candidate: "candidate:x", SDPMid: "1", SDPMLineIndex: 1}, fromICEInit(init))
}

// TestLoopbackCall connects two peers over 127.0.0.1 and waits for media.
func TestLoopbackCall(t *testing.T) {
	if testing.Short() {
		t.Skip("network test")
	}
	caller, callee := newConn(t), newConn(t)

	connected := make(chan struct{}, 2)
	remote := make(chan *core.RemoteStream, 2)
	for _, c := range []*WebRTCConnection{caller, callee} {
		var once sync.Once
		c.OnConnectionStateChanged(func(s core.TransportState) {
			if s == core.TransportConnected {
				once.Do(func() { connected <- struct{}{} })
			}
		})
		c.OnRemoteMediaReady(func(s *core.RemoteStream) { remote <- s })
	}
	caller.OnLocalCandidate(func(cand domain.Candidate) { _ = callee.AddRemoteCandidate(cand) })
	callee.OnLocalCandidate(func(cand domain.Candidate) { _ = caller.AddRemoteCandidate(cand) })

	require.NoError(t, caller.AttachLocalMedia(avStream(t)))
	require.NoError(t, callee.AttachLocalMedia(avStream(t)))

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	answer, err := callee.AcceptOfferAndCreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	require.NoError(t, caller.AcceptAnswer(answer))

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(15 * time.Second):
			t.Fatal("peers did not connect")
		}
	}
	var stream *core.RemoteStream
	select {
	case stream = <-remote:
	case <-time.After(15 * time.Second):
		t.Fatal("no remote media")
	}
	assert.Eventually(t, func() bool { return stream.Packets() > 0 }, 10*time.Second, 50*time.Millisecond)
}
