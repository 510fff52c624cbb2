// Package orch runs one call session: it owns the devices, the peer
// connection and the signaling subscriptions of a single participant.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

type Config struct {
	AppointmentID domain.AppointmentID
	Identity      domain.ParticipantID
	Role          domain.Role
	// CallID is optional. An initiator derives a fresh one when empty and a
	// responder joins the latest open call of the appointment.
	CallID domain.CallID
}

// Acquirer is satisfied by app.DeviceAcquirer.
type Acquirer interface {
	Acquire(ctx context.Context) (*core.LocalStream, error)
}

type Deps struct {
	Records       core.RecordLookup
	Devices       Acquirer
	Signaling     core.SignalingStore
	Mailbox       core.CandidateMailbox
	NewNegotiator core.NegotiatorFactory
}

// Callbacks are the presentation boundary. They are never called with the
// session lock held and may be nil.
type Callbacks struct {
	OnLocalMedia  func(*core.LocalStream)
	OnRemoteMedia func(*core.RemoteStream)
	OnStateChange func(app.State)
	OnError       func(*domain.CallError)
}

type Orchestrator struct {
	cfg    Config
	deps   Deps
	cb     Callbacks
	guard  *app.AccessGuard
	logger zerolog.Logger
	now    func() time.Time

	// ctx lives until EndCall and bounds every in-flight operation.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         app.State
	ended         bool
	busy          bool
	callID        domain.CallID
	record        domain.SessionRecord
	local         *core.LocalStream
	remote        *core.RemoteStream
	neg           core.Negotiator
	relay         *app.CandidateRelay
	pendingLocal  []domain.Candidate
	docUnsub      core.Unsubscribe
	candUnsub     core.Unsubscribe
	videoEnabled  bool
	audioEnabled  bool
	answerApplied bool

	// pubMu keeps local candidates in discovery order across the relay handover.
	pubMu sync.Mutex
}

func New(cfg Config, deps Deps, cb Callbacks) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		cb:    cb,
		guard: app.NewAccessGuard(deps.Records),
		logger: log.With().
			Str("module", "orch").
			Str("appointment", string(cfg.AppointmentID)).
			Str("role", string(cfg.Role)).
			Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    ctx,
		cancel: cancel,
		state:  app.StateIdle,
	}
}

func (o *Orchestrator) State() app.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) CallID() domain.CallID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.callID
}

func (o *Orchestrator) Role() domain.Role { return o.cfg.Role }

func (o *Orchestrator) LocalStream() *core.LocalStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.local
}

func (o *Orchestrator) RemoteStream() *core.RemoteStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remote
}

func (o *Orchestrator) VideoEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.videoEnabled
}

func (o *Orchestrator) AudioEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.audioEnabled
}

// Initialize checks access, opens devices and prepares the peer connection.
// Any failure releases what was acquired and ends the session.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.begin(app.StateIdle, ""); err != nil {
		return err
	}
	defer o.done()

	ctx, stop := o.opContext(ctx)
	defer stop()

	rec, err := o.guard.ValidateAccess(ctx, o.cfg.CallID, o.cfg.AppointmentID, o.cfg.Identity, o.cfg.Role)
	if err != nil {
		return o.fail(err, domain.CodeUnauthorized)
	}

	stream, err := o.deps.Devices.Acquire(ctx)
	if err != nil {
		return o.fail(err, domain.CodeMediaError)
	}
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		stream.Stop()
		return domain.ErrCallEnded
	}
	o.record = rec
	o.local = stream
	o.videoEnabled = stream.HasKind(core.TrackVideo)
	o.audioEnabled = stream.HasKind(core.TrackAudio)
	o.mu.Unlock()
	if o.cb.OnLocalMedia != nil {
		o.cb.OnLocalMedia(stream)
	}

	neg, err := o.deps.NewNegotiator(ctx)
	if err != nil {
		return o.fail(err, domain.CodeNegotiationFailed)
	}
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		_ = neg.Close()
		return domain.ErrCallEnded
	}
	o.neg = neg
	o.mu.Unlock()

	o.bindNegotiator(neg)
	if err := neg.AttachLocalMedia(stream); err != nil {
		return o.fail(err, domain.CodeNegotiationFailed)
	}

	o.setState(app.StateInitialized)
	o.logger.Info().Str("stream", stream.ID).Msg("session initialized")
	return nil
}

// ToggleVideo flips the outgoing video and returns the new flag.
func (o *Orchestrator) ToggleVideo() bool { return o.toggle(core.TrackVideo) }

// ToggleAudio flips the outgoing audio and returns the new flag.
func (o *Orchestrator) ToggleAudio() bool { return o.toggle(core.TrackAudio) }

func (o *Orchestrator) toggle(kind core.TrackKind) bool {
	o.mu.Lock()
	if o.ended || o.local == nil || !o.local.HasKind(kind) {
		o.mu.Unlock()
		return false
	}
	flag := &o.audioEnabled
	if kind == core.TrackVideo {
		flag = &o.videoEnabled
	}
	*flag = !*flag
	next := *flag
	tracks := o.local.TracksOf(kind)
	o.mu.Unlock()

	for _, t := range tracks {
		t.SetEnabled(next)
	}
	o.logger.Debug().Str("kind", string(kind)).Bool("enabled", next).Msg("toggled")
	return next
}

// begin claims the session for one operation. want is the required state and
// role, when set, the required role.
func (o *Orchestrator) begin(want app.State, role domain.Role) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return domain.ErrCallEnded
	}
	if role != "" && o.cfg.Role != role {
		return domain.NewCallError(domain.CodeInvalidState, fmt.Errorf("operation needs role %s", role))
	}
	if o.busy || o.state != want {
		return domain.NewCallError(domain.CodeInvalidState, fmt.Errorf("session is %s", o.state))
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) done() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func (o *Orchestrator) isEnded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

// opContext ties ctx to the session so EndCall aborts blocking steps.
func (o *Orchestrator) opContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (o *Orchestrator) setState(to app.State) bool {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return false
	}
	if _, err := app.Transition(from, to); err != nil {
		o.mu.Unlock()
		o.logger.Debug().Err(err).Msg("state change ignored")
		return false
	}
	o.state = to
	o.mu.Unlock()

	o.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("state")
	if o.cb.OnStateChange != nil {
		o.cb.OnStateChange(to)
	}
	return true
}

// fail reports err and, when it is fatal, ends the session. An error caused
// by a concurrent EndCall is returned as ErrCallEnded without a report.
func (o *Orchestrator) fail(err error, fallback domain.ErrorCode) error {
	if o.isEnded() {
		return domain.ErrCallEnded
	}
	ce := domain.AsCallError(err, fallback)
	o.logger.Warn().Err(ce).Bool("fatal", ce.Fatal()).Msg("call error")
	if ce.Fatal() {
		o.endSession(context.Background(), false)
	}
	if o.cb.OnError != nil {
		o.cb.OnError(ce)
	}
	return ce
}

// EndCall tears the session down. It is safe from any state, more than once
// and concurrently with other operations.
func (o *Orchestrator) EndCall(ctx context.Context) error {
	o.endSession(ctx, false)
	return nil
}

func (o *Orchestrator) endSession(ctx context.Context, remote bool) bool {
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return false
	}
	o.ended = true
	neg, local := o.neg, o.local
	docUnsub, candUnsub := o.docUnsub, o.candUnsub
	callID := o.callID
	o.neg, o.docUnsub, o.candUnsub = nil, nil, nil
	o.pendingLocal = nil
	o.videoEnabled, o.audioEnabled = false, false
	o.mu.Unlock()

	o.cancel()
	if docUnsub != nil {
		docUnsub()
	}
	if candUnsub != nil {
		candUnsub()
	}
	if neg != nil {
		if err := neg.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("close negotiator")
		}
	}
	if local != nil {
		local.Stop()
	}
	if callID != "" && !remote {
		o.markEnded(ctx, callID)
	}
	o.setState(app.StateEnded)
	o.logger.Info().Str("call_id", string(callID)).Bool("remote", remote).Msg("call ended")
	return true
}

// markEnded closes the call document so nobody joins it later.
func (o *Orchestrator) markEnded(ctx context.Context, callID domain.CallID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := o.deps.Signaling.Update(ctx, callID, domain.DocUpdate{Status: domain.StatusPtr(domain.CallStatusEnded)})
	if err != nil && !errors.Is(err, domain.ErrDocumentEnded) {
		o.logger.Warn().Err(err).Str("call_id", string(callID)).Msg("mark call ended")
	}
}
