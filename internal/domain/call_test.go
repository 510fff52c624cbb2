package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallIDIsTraceableAndFresh(t *testing.T) {
	assert := assert.New(t)
	now := time.Unix(1700000000, 0)

	a := NewCallID("appt_42", now)
	b := NewCallID("appt_42", now)
	assert.NotEqual(a, b)

	appt, ok := a.Appointment()
	assert.True(ok)
	assert.Equal(AppointmentID("appt_42"), appt)

	_, ok = CallID("garbage").Appointment()
	assert.False(ok)
}

func TestApplyOfferAndAnswerAreWriteOnce(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := SignalingDoc{CallID: "c1", Status: CallStatusCreated}

	_, err := doc.Apply(DocUpdate{Answer: &SessionDescription{Type: "answer", SDP: "a"}}, now)
	require.ErrorIs(err, ErrAnswerNeedsOffer)

	doc, err = doc.Apply(DocUpdate{Offer: &SessionDescription{Type: "offer", SDP: "o"}, Status: StatusPtr(CallStatusCalling)}, now)
	require.NoError(err)
	require.Equal(CallStatusCalling, doc.Status)

	_, err = doc.Apply(DocUpdate{Offer: &SessionDescription{Type: "offer", SDP: "o2"}}, now)
	require.ErrorIs(err, ErrOfferAlreadySet)

	doc, err = doc.Apply(DocUpdate{Answer: &SessionDescription{Type: "answer", SDP: "a"}}, now)
	require.NoError(err)
	_, err = doc.Apply(DocUpdate{Answer: &SessionDescription{Type: "answer", SDP: "a"}}, now)
	require.ErrorIs(err, ErrAnswerAlreadySet)
}

func TestApplyResponderSlotIsWriteOnce(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	pat, mallory := ParticipantID("pat"), ParticipantID("mallory")
	doc := SignalingDoc{CallID: "c1", Offer: &SessionDescription{Type: "offer", SDP: "o"}, Status: CallStatusCalling}

	doc, err := doc.Apply(DocUpdate{
		Answer:      &SessionDescription{Type: "answer", SDP: "a"},
		ResponderID: &pat,
		Status:      StatusPtr(CallStatusAnswered),
	}, now)
	require.NoError(err)
	require.Equal(pat, doc.ResponderID)

	after, err := doc.Apply(DocUpdate{ResponderID: &mallory}, now)
	require.ErrorIs(err, ErrResponderBound)
	require.Equal(pat, after.ResponderID)

	// Restating the bound identity and teardown are still accepted.
	doc, err = doc.Apply(DocUpdate{ResponderID: &pat, Status: StatusPtr(CallStatusEnded)}, now)
	require.NoError(err)
	require.Equal(CallStatusEnded, doc.Status)

	// Once answered, the slot cannot be filled either.
	unbound := SignalingDoc{CallID: "c2", Offer: &SessionDescription{SDP: "o"}, Answer: &SessionDescription{SDP: "a"}}
	_, err = unbound.Apply(DocUpdate{ResponderID: &mallory}, now)
	require.ErrorIs(err, ErrResponderBound)
}

func TestApplyOnEndedDocument(t *testing.T) {
	doc := SignalingDoc{CallID: "c1", Status: CallStatusEnded}

	same, err := doc.Apply(DocUpdate{Status: StatusPtr(CallStatusEnded)}, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, doc, same)

	_, err = doc.Apply(DocUpdate{Status: StatusPtr(CallStatusCalling)}, time.Now())
	assert.ErrorIs(t, err, ErrDocumentEnded)
}

func TestCallErrorMatchesByCode(t *testing.T) {
	assert := assert.New(t)

	err := fmt.Errorf("initialize: %w", NewMediaError(MediaDenied, errors.New("blocked")))
	assert.ErrorIs(err, ErrMedia)
	assert.ErrorIs(err, &CallError{Code: CodeMediaError, Reason: MediaDenied})
	assert.NotErrorIs(err, &CallError{Code: CodeMediaError, Reason: MediaNotFound})
	assert.NotErrorIs(err, ErrUnauthorized)

	ce := AsCallError(err, CodeNegotiationFailed)
	assert.Equal(MediaDenied, ce.Reason)
	assert.Contains(ce.Hint(), "Allow access")

	plain := AsCallError(errors.New("boom"), CodeNegotiationFailed)
	assert.Equal(CodeNegotiationFailed, plain.Code)
	assert.False(ErrNoOfferPresent.Fatal())
	assert.True(ErrUnauthorized.Fatal())
}

func TestRoleAndRecord(t *testing.T) {
	rec := SessionRecord{AppointmentID: "a", InitiatorID: "doc", ResponderID: "pat"}
	assert.Equal(t, ParticipantID("doc"), rec.BoundIdentity(RoleInitiator))
	assert.Equal(t, ParticipantID("pat"), rec.BoundIdentity(RoleResponder))
	assert.Equal(t, ParticipantID(""), rec.BoundIdentity(Role("observer")))
	assert.Equal(t, RoleResponder, RoleInitiator.Peer())
	assert.False(t, Role("observer").Valid())

	_, err := NewParticipantID("")
	assert.ErrorIs(t, err, ErrParticipantIDEmpty)
}
