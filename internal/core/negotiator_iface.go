package core

import (
	"context"

	"github.com/dkeye/Telecall/internal/domain"
)

// TransportState is the peer connection state as reported by the transport.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Negotiator owns one peer connection for one call. It is never reused.
type Negotiator interface {
	AttachLocalMedia(stream *LocalStream) error
	// CreateOffer produces and sets the local offer. Initiator only.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// AcceptOfferAndCreateAnswer sets the remote offer and the local answer. Responder only.
	AcceptOfferAndCreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)
	// AcceptAnswer is a no-op once a remote description is set.
	AcceptAnswer(answer domain.SessionDescription) error
	// AddRemoteCandidate buffers candidates that arrive before the remote description.
	AddRemoteCandidate(c domain.Candidate) error

	OnRemoteMediaReady(fn func(*RemoteStream))
	OnConnectionStateChanged(fn func(TransportState))
	OnLocalCandidate(fn func(domain.Candidate))

	// Close stops the connection. Safe to call twice.
	Close() error
}

// NegotiatorFactory builds a fresh Negotiator for one call session.
type NegotiatorFactory func(ctx context.Context) (Negotiator, error)
