package orch

import (
	"errors"

	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

var errTransportFailed = errors.New("peer transport failed")

func (o *Orchestrator) bindNegotiator(neg core.Negotiator) {
	neg.OnRemoteMediaReady(o.onRemoteMedia)
	neg.OnConnectionStateChanged(o.onTransportState)
	neg.OnLocalCandidate(o.onLocalCandidate)
}

func (o *Orchestrator) onRemoteMedia(stream *core.RemoteStream) {
	o.mu.Lock()
	if o.ended || o.remote != nil {
		o.mu.Unlock()
		return
	}
	o.remote = stream
	o.mu.Unlock()

	o.logger.Info().Str("stream", stream.ID).Msg("remote media ready")
	if o.cb.OnRemoteMedia != nil {
		o.cb.OnRemoteMedia(stream)
	}
}

func (o *Orchestrator) onTransportState(s core.TransportState) {
	if o.isEnded() {
		return
	}
	o.logger.Debug().Str("transport", string(s)).Msg("transport state")
	switch s {
	case core.TransportConnected:
		o.setState(app.StateConnected)
	case core.TransportFailed:
		if o.setState(app.StateFailed) {
			// The negotiator may be mid-callback; tear down off its goroutine.
			go o.fail(domain.NewCallError(domain.CodeNegotiationFailed, errTransportFailed), domain.CodeNegotiationFailed)
		}
	case core.TransportDisconnected:
		o.logger.Warn().Msg("transport disconnected, waiting for recovery")
	}
}

// onLocalCandidate publishes c once the call id is known and buffers it before.
func (o *Orchestrator) onLocalCandidate(c domain.Candidate) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	relay := o.relay
	if relay == nil {
		o.pendingLocal = append(o.pendingLocal, c)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := relay.Publish(o.ctx, c); err != nil {
		// Already logged by the relay; a lost candidate is not fatal.
		o.logger.Debug().Err(err).Msg("local candidate dropped")
	}
}

func (o *Orchestrator) onRemoteCandidate(c domain.Candidate) {
	o.mu.Lock()
	neg := o.neg
	o.mu.Unlock()
	if neg == nil {
		return
	}
	if err := neg.AddRemoteCandidate(c); err != nil {
		o.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("remote candidate rejected")
	}
}
