package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/domain"
)

// Start places the call: fresh signaling document, offer, then watch for
// the answer and the responder's candidates.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.begin(app.StateInitialized, domain.RoleInitiator); err != nil {
		return err
	}
	defer o.done()

	ctx, stop := o.opContext(ctx)
	defer stop()

	o.mu.Lock()
	neg, rec := o.neg, o.record
	o.mu.Unlock()

	callID := o.cfg.CallID
	if callID == "" {
		callID = domain.NewCallID(o.cfg.AppointmentID, o.now())
	}
	doc := domain.SignalingDoc{
		CallID:        callID,
		AppointmentID: o.cfg.AppointmentID,
		InitiatorID:   o.cfg.Identity,
		Status:        domain.CallStatusCreated,
	}
	if err := o.deps.Signaling.Create(ctx, doc); err != nil {
		return o.fail(fmt.Errorf("create call document: %w", err), domain.CodeNegotiationFailed)
	}
	if !o.adoptCall(callID, rec.ResponderID) {
		// EndCall ran before the call id was recorded, so it could not close
		// the document we just created.
		o.markEnded(ctx, callID)
		return domain.ErrCallEnded
	}

	offer, err := neg.CreateOffer(ctx)
	if err != nil {
		return o.fail(fmt.Errorf("create offer: %w", err), domain.CodeNegotiationFailed)
	}
	if err := o.deps.Signaling.Update(ctx, callID, domain.DocUpdate{
		Offer:  &offer,
		Status: domain.StatusPtr(domain.CallStatusCalling),
	}); err != nil {
		return o.fail(fmt.Errorf("write offer: %w", err), domain.CodeNegotiationFailed)
	}
	o.setState(app.StateCalling)

	if err := o.watch(ctx, callID); err != nil {
		return err
	}
	o.logger.Info().Str("call_id", string(callID)).Msg("call started")
	return nil
}

// Join answers the offer waiting in the call document. Without an offer it
// returns NoOfferPresent and leaves the session initialized for a retry.
func (o *Orchestrator) Join(ctx context.Context) error {
	if err := o.begin(app.StateInitialized, domain.RoleResponder); err != nil {
		return err
	}
	defer o.done()

	ctx, stop := o.opContext(ctx)
	defer stop()

	o.mu.Lock()
	neg, rec := o.neg, o.record
	o.mu.Unlock()

	doc, err := o.findOffer(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoOfferPresent) {
			return o.fail(err, domain.CodeNoOfferPresent)
		}
		return o.fail(fmt.Errorf("read call document: %w", err), domain.CodeNegotiationFailed)
	}
	if !o.adoptCall(doc.CallID, rec.InitiatorID) {
		return domain.ErrCallEnded
	}

	answer, err := neg.AcceptOfferAndCreateAnswer(ctx, *doc.Offer)
	if err != nil {
		return o.fail(fmt.Errorf("answer offer: %w", err), domain.CodeNegotiationFailed)
	}
	o.setState(app.StateConnecting)

	responder := o.cfg.Identity
	if err := o.deps.Signaling.Update(ctx, doc.CallID, domain.DocUpdate{
		Answer:      &answer,
		ResponderID: &responder,
		Status:      domain.StatusPtr(domain.CallStatusAnswered),
	}); err != nil {
		return o.fail(fmt.Errorf("write answer: %w", err), domain.CodeNegotiationFailed)
	}

	if err := o.watch(ctx, doc.CallID); err != nil {
		return err
	}
	o.logger.Info().Str("call_id", string(doc.CallID)).Msg("call joined")
	return nil
}

func (o *Orchestrator) findOffer(ctx context.Context) (domain.SignalingDoc, error) {
	var (
		doc domain.SignalingDoc
		err error
	)
	if o.cfg.CallID != "" {
		doc, err = o.deps.Signaling.Read(ctx, o.cfg.CallID)
	} else {
		doc, err = o.deps.Signaling.Latest(ctx, o.cfg.AppointmentID)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return doc, domain.NewCallError(domain.CodeNoOfferPresent, err)
	case err != nil:
		return doc, err
	case doc.AppointmentID != o.cfg.AppointmentID:
		return doc, domain.NewCallError(domain.CodeUnauthorized, fmt.Errorf("call %s belongs to another appointment", doc.CallID))
	case doc.Status == domain.CallStatusEnded:
		return doc, domain.NewCallError(domain.CodeNoOfferPresent, fmt.Errorf("call %s already ended", doc.CallID))
	case doc.Offer == nil:
		return doc, domain.NewCallError(domain.CodeNoOfferPresent, fmt.Errorf("call %s has no offer yet", doc.CallID))
	}
	return doc, nil
}

// adoptCall fixes the call id, opens the candidate relay and publishes the
// candidates gathered so far.
func (o *Orchestrator) adoptCall(callID domain.CallID, peer domain.ParticipantID) bool {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return false
	}
	o.callID = callID
	o.relay = app.NewCandidateRelay(o.deps.Mailbox, callID, o.cfg.Identity, peer)
	relay := o.relay
	pending := o.pendingLocal
	o.pendingLocal = nil
	o.mu.Unlock()

	o.logger.Debug().Str("call_id", string(callID)).Int("buffered", len(pending)).Msg("candidate relay open")
	for _, c := range pending {
		if err := relay.Publish(o.ctx, c); err != nil {
			// Already logged by the relay. The peer may still connect over
			// the candidates that did get through.
			o.logger.Debug().Err(err).Msg("buffered candidate dropped")
		}
	}
	return true
}

// watch subscribes to the call document and to the peer's candidates.
func (o *Orchestrator) watch(ctx context.Context, callID domain.CallID) error {
	docUnsub, err := o.deps.Signaling.Subscribe(ctx, callID, o.onDoc)
	if err != nil {
		return o.fail(fmt.Errorf("watch call document: %w", err), domain.CodeNegotiationFailed)
	}
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		docUnsub()
		return domain.ErrCallEnded
	}
	o.docUnsub = docUnsub
	relay := o.relay
	o.mu.Unlock()

	candUnsub, err := relay.Subscribe(ctx, o.onRemoteCandidate)
	if err != nil {
		return o.fail(fmt.Errorf("watch peer candidates: %w", err), domain.CodeNegotiationFailed)
	}
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		candUnsub()
		return domain.ErrCallEnded
	}
	o.candUnsub = candUnsub
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) onDoc(doc domain.SignalingDoc) {
	if doc.Status == domain.CallStatusEnded {
		if !o.isEnded() {
			// Ending unsubscribes this watcher, so do it off its goroutine.
			go o.endSession(context.Background(), true)
		}
		return
	}
	if o.cfg.Role != domain.RoleInitiator || doc.Answer == nil {
		return
	}

	o.mu.Lock()
	if o.ended || o.answerApplied {
		o.mu.Unlock()
		return
	}
	o.answerApplied = true
	neg := o.neg
	o.mu.Unlock()

	if err := neg.AcceptAnswer(*doc.Answer); err != nil {
		_ = o.fail(fmt.Errorf("apply answer: %w", err), domain.CodeNegotiationFailed)
		return
	}
	o.setState(app.StateConnected)
}
