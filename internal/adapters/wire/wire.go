// Package wire holds the JSON shapes exchanged between the relay server
// and its clients, and the mapping of store errors onto status codes.
package wire

import (
	"errors"
	"net/http"

	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/store"
)

var (
	ErrRateLimited = errors.New("rate limited")
	// ErrForbidden is returned when the writer is not a participant of the call.
	ErrForbidden = errors.New("not a participant of this call")
)

// Error codes carried in ErrorBody.Error.
const (
	CodeBadRequest       = "bad_request"
	CodeNotFound         = "not_found"
	CodeAlreadyExists    = "already_exists"
	CodeOfferAlreadySet  = "offer_already_set"
	CodeAnswerAlreadySet = "answer_already_set"
	CodeAnswerNeedsOffer = "answer_needs_offer"
	CodeDocumentEnded    = "document_ended"
	CodeResponderBound   = "responder_bound"
	CodeForbidden        = "forbidden"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type CandidateList struct {
	Candidates []domain.Candidate `json:"candidates"`
}

// Websocket message types.
const (
	TypeWatchDoc        = "watch_doc"
	TypeWatchCandidates = "watch_candidates"
	TypeDoc             = "doc"
	TypeCandidates      = "candidates"
	TypeError           = "error"
	TypePing            = "ping"
	TypePong            = "pong"
)

type ClientMessage struct {
	Type        string               `json:"type"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
}

type ServerMessage struct {
	Type        string               `json:"type"`
	Doc         *domain.SignalingDoc `json:"doc,omitempty"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
	Candidates  []domain.Candidate   `json:"candidates,omitempty"`
	Error       string               `json:"error,omitempty"`
}

var codeErrors = map[string]error{
	CodeNotFound:         domain.ErrNotFound,
	CodeAlreadyExists:    store.ErrAlreadyExists,
	CodeOfferAlreadySet:  domain.ErrOfferAlreadySet,
	CodeAnswerAlreadySet: domain.ErrAnswerAlreadySet,
	CodeAnswerNeedsOffer: domain.ErrAnswerNeedsOffer,
	CodeDocumentEnded:    domain.ErrDocumentEnded,
	CodeResponderBound:   domain.ErrResponderBound,
	CodeForbidden:        ErrForbidden,
	CodeRateLimited:      ErrRateLimited,
}

// StatusOf maps a store error to an HTTP status and error code.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, domain.ErrOfferAlreadySet):
		return http.StatusConflict, CodeOfferAlreadySet
	case errors.Is(err, domain.ErrAnswerAlreadySet):
		return http.StatusConflict, CodeAnswerAlreadySet
	case errors.Is(err, domain.ErrDocumentEnded):
		return http.StatusConflict, CodeDocumentEnded
	case errors.Is(err, domain.ErrResponderBound):
		return http.StatusConflict, CodeResponderBound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, domain.ErrAnswerNeedsOffer):
		return http.StatusPreconditionFailed, CodeAnswerNeedsOffer
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// ErrorOf turns a received error body back into an error matching the
// sentinel the server saw.
func ErrorOf(body ErrorBody) error {
	base, ok := codeErrors[body.Error]
	if !ok {
		return errors.New(body.Error + ": " + body.Message)
	}
	if body.Message == "" {
		return base
	}
	return &remoteError{base: base, message: body.Message}
}

type remoteError struct {
	base    error
	message string
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.base }
