package core

import (
	"context"

	"github.com/dkeye/Telecall/internal/domain"
)

// Unsubscribe cancels a subscription. Calling it more than once is safe.
type Unsubscribe func()

// RecordLookup is the scheduling side: read-only appointment records.
type RecordLookup interface {
	// GetSessionRecord returns domain.ErrNotFound when the appointment is unknown.
	GetSessionRecord(ctx context.Context, id domain.AppointmentID) (domain.SessionRecord, error)
}

// SignalingStore keeps one document per call.
type SignalingStore interface {
	Create(ctx context.Context, doc domain.SignalingDoc) error
	Read(ctx context.Context, id domain.CallID) (domain.SignalingDoc, error)
	Update(ctx context.Context, id domain.CallID, upd domain.DocUpdate) error
	// Latest returns the most recent non-ended document of an appointment.
	Latest(ctx context.Context, appointment domain.AppointmentID) (domain.SignalingDoc, error)
	// Subscribe delivers the current document first and then the latest full
	// document after every change, at least once.
	Subscribe(ctx context.Context, id domain.CallID, fn func(domain.SignalingDoc)) (Unsubscribe, error)
}

// CandidateMailbox keeps one ordered candidate list per call and participant.
// Each mailbox has exactly one writer, its owner.
type CandidateMailbox interface {
	AppendCandidate(ctx context.Context, id domain.CallID, owner domain.ParticipantID, c domain.Candidate) error
	Candidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID) ([]domain.Candidate, error)
	// SubscribeCandidates delivers the full ordered list, current state first.
	SubscribeCandidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID, fn func([]domain.Candidate)) (Unsubscribe, error)
}
