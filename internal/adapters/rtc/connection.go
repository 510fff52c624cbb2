// Package rtc implements core.Negotiator on a pion PeerConnection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

var ErrClosed = errors.New("peer connection closed")

type Config struct {
	ICEServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates; used by local tests.
	IncludeLoopback bool
	// Codecs registers codecs on the media engine. Nil means pion's defaults.
	Codecs func(*webrtc.MediaEngine) error

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds a fresh connection per call session.
func Factory(cfg Config) core.NegotiatorFactory {
	return func(ctx context.Context) (core.Negotiator, error) {
		return NewWebRTCConnection(ctx, cfg)
	}
}

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	// sdpMu serializes description changes.
	sdpMu sync.Mutex

	mu          sync.Mutex
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	closed      bool
	remote      *core.RemoteStream
	remoteReady bool
	onRemote    func(*core.RemoteStream)
	onState     func(core.TransportState)
	onCandidate func(domain.Candidate)

	closeOnce sync.Once
}

var _ core.Negotiator = (*WebRTCConnection)(nil)

func NewWebRTCConnection(ctx context.Context, cfg Config) (*WebRTCConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.Codecs != nil {
		if err := cfg.Codecs(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &WebRTCConnection{
		pc:     pc,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("module", "webrtc").Logger(),
	}
	c.bind()
	return c, nil
}

func (c *WebRTCConnection) bind() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(transportState(s))
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn != nil {
			fn(fromICEInit(cand.ToJSON()))
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		c.mu.Lock()
		if c.remote == nil {
			c.remote = core.NewRemoteStream(track.StreamID())
		}
		stream := c.remote
		stream.AddTrack(track)
		first := !c.remoteReady
		c.remoteReady = true
		fn := c.onRemote
		c.mu.Unlock()

		go c.drain(track, stream)
		if first && fn != nil {
			fn(stream)
		}
	})
}

// drain reads the remote track until it ends so interceptors keep running.
func (c *WebRTCConnection) drain(track *webrtc.TrackRemote, stream *core.RemoteStream) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		n, _, err := track.Read(buf)
		if err != nil {
			c.logger.Debug().Err(err).Str("track_id", track.ID()).Msg("remote track read stopped")
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		stream.CountPacket()
	}
}

func (c *WebRTCConnection) AttachLocalMedia(stream *core.LocalStream) error {
	var tracks []core.LocalTrack
	if stream != nil {
		tracks = stream.Tracks()
	}
	for _, t := range tracks {
		sender, err := c.pc.AddTrack(t.RTC())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go c.readRTCP(sender)
		t.OnEnabledChange(c.followEnabled(sender, t))
	}
	// Keep an m-line for kinds we do not send so the peer's media still arrives.
	for _, kind := range []core.TrackKind{core.TrackVideo, core.TrackAudio} {
		if stream != nil && stream.HasKind(kind) {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly %s: %w", kind, err)
		}
	}
	return nil
}

func (c *WebRTCConnection) followEnabled(sender *webrtc.RTPSender, t core.LocalTrack) func(bool) {
	return func(enabled bool) {
		var next webrtc.TrackLocal
		if enabled {
			next = t.RTC()
		}
		if err := sender.ReplaceTrack(next); err != nil {
			c.logger.Warn().Err(err).Str("track", t.ID()).Bool("enabled", enabled).Msg("replace track")
		}
	}
}

func (c *WebRTCConnection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer(_ context.Context) (domain.SessionDescription, error) {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()
	if c.isClosed() {
		return domain.SessionDescription{}, ErrClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) AcceptOfferAndCreateAnswer(_ context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()
	if c.isClosed() {
		return domain.SessionDescription{}, ErrClosed
	}
	if err := c.pc.SetRemoteDescription(toSDP(offer, webrtc.SDPTypeOffer)); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	c.flushPending()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) AcceptAnswer(answer domain.SessionDescription) error {
	c.sdpMu.Lock()
	defer c.sdpMu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.pc.RemoteDescription() != nil {
		c.logger.Debug().Msg("answer already applied")
		return nil
	}
	if err := c.pc.SetRemoteDescription(toSDP(answer, webrtc.SDPTypeAnswer)); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	c.flushPending()
	return nil
}

func (c *WebRTCConnection) AddRemoteCandidate(cand domain.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.remoteSet {
		c.pending = append(c.pending, toICEInit(cand))
		return nil
	}
	return c.pc.AddICECandidate(toICEInit(cand))
}

// flushPending applies buffered candidates in arrival order. The lock is
// held throughout so a concurrent AddRemoteCandidate cannot overtake them.
func (c *WebRTCConnection) flushPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteSet = true
	for _, ci := range c.pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Str("candidate", ci.Candidate).Msg("buffered candidate rejected")
		}
	}
	c.pending = nil
}

// PendingCandidates is the number of candidates waiting for a remote description.
func (c *WebRTCConnection) PendingCandidates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *WebRTCConnection) OnRemoteMediaReady(fn func(*core.RemoteStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = fn
}

func (c *WebRTCConnection) OnConnectionStateChanged(fn func(core.TransportState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(domain.Candidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *WebRTCConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = nil
		c.mu.Unlock()

		c.cancel()
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

func transportState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	default:
		return core.TransportNew
	}
}

func codecType(kind core.TrackKind) webrtc.RTPCodecType {
	if kind == core.TrackVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func toSDP(sd domain.SessionDescription, fallback webrtc.SDPType) webrtc.SessionDescription {
	typ := webrtc.NewSDPType(sd.Type)
	if typ == webrtc.SDPTypeUnknown {
		typ = fallback
	}
	return webrtc.SessionDescription{Type: typ, SDP: sd.SDP}
}

func fromSDP(sd *webrtc.SessionDescription) domain.SessionDescription {
	if sd == nil {
		return domain.SessionDescription{}
	}
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toICEInit(c domain.Candidate) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return init
}

func fromICEInit(ci webrtc.ICECandidateInit) domain.Candidate {
	out := domain.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		out.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		out.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return out
}
