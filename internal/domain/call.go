package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CallID string

// NewCallID derives a fresh call id from the appointment: <appointment>_<unix-ms>_<suffix>.
func NewCallID(appointment AppointmentID, now time.Time) CallID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return CallID(fmt.Sprintf("%s_%d_%s", appointment, now.UnixMilli(), suffix))
}

// Appointment recovers the appointment id the call was derived from.
func (id CallID) Appointment() (AppointmentID, bool) {
	s := string(id)
	i := strings.LastIndex(s, "_")
	if i <= 0 {
		return "", false
	}
	j := strings.LastIndex(s[:i], "_")
	if j <= 0 {
		return "", false
	}
	if _, err := strconv.ParseInt(s[j+1:i], 10, 64); err != nil {
		return "", false
	}
	return AppointmentID(s[:j]), true
}

// SessionDescription is an opaque offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate describes one network path, in the shape browsers exchange.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// CallStatus is the coarse status mirrored in the signaling document.
type CallStatus string

const (
	CallStatusCreated  CallStatus = "created"
	CallStatusCalling  CallStatus = "calling"
	CallStatusAnswered CallStatus = "answered"
	CallStatusEnded    CallStatus = "ended"
)

var (
	ErrOfferAlreadySet  = errors.New("offer already set")
	ErrAnswerAlreadySet = errors.New("answer already set")
	ErrAnswerNeedsOffer = errors.New("answer without offer")
	ErrDocumentEnded    = errors.New("signaling document ended")
	ErrResponderBound   = errors.New("responder already bound")
)

// SignalingDoc is the shared record through which one call is negotiated.
type SignalingDoc struct {
	CallID        CallID              `json:"call_id"`
	AppointmentID AppointmentID       `json:"appointment_id"`
	InitiatorID   ParticipantID       `json:"initiator_id,omitempty"`
	ResponderID   ParticipantID       `json:"responder_id,omitempty"`
	Offer         *SessionDescription `json:"offer,omitempty"`
	Answer        *SessionDescription `json:"answer,omitempty"`
	Status        CallStatus          `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// DocUpdate is a partial update; nil fields are left alone.
type DocUpdate struct {
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	ResponderID *ParticipantID      `json:"responder_id,omitempty"`
	Status      *CallStatus         `json:"status,omitempty"`
}

// Apply merges u into a copy of d. Offer, answer and the responder slot are
// write-once and an ended document only accepts another "ended".
func (d SignalingDoc) Apply(u DocUpdate, now time.Time) (SignalingDoc, error) {
	if d.Status == CallStatusEnded {
		if u.Offer == nil && u.Answer == nil && u.ResponderID == nil && u.Status != nil && *u.Status == CallStatusEnded {
			return d, nil
		}
		return d, ErrDocumentEnded
	}
	answered := d.Answer != nil
	if u.Offer != nil {
		if d.Offer != nil {
			return d, ErrOfferAlreadySet
		}
		offer := *u.Offer
		d.Offer = &offer
	}
	if u.Answer != nil {
		if d.Answer != nil {
			return d, ErrAnswerAlreadySet
		}
		if d.Offer == nil {
			return d, ErrAnswerNeedsOffer
		}
		answer := *u.Answer
		d.Answer = &answer
	}
	if u.ResponderID != nil && *u.ResponderID != d.ResponderID {
		if d.ResponderID != "" || answered {
			return d, ErrResponderBound
		}
		d.ResponderID = *u.ResponderID
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	d.UpdatedAt = now
	return d, nil
}

// StatusPtr is a helper for building updates.
func StatusPtr(s CallStatus) *CallStatus { return &s }
