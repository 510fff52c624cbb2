// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxParticipantIDLen = 64

var (
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrParticipantIDEmpty   = errors.New("participant id empty")
)

type ParticipantID string

// NewParticipantID validates a raw identity coming from an adapter.
func NewParticipantID(raw string) (ParticipantID, error) {
	if len(raw) == 0 {
		return "", ErrParticipantIDEmpty
	}
	if len(raw) > MaxParticipantIDLen {
		return "", ErrParticipantIDTooLong
	}
	return ParticipantID(raw), nil
}

// Role is the side a participant plays in a call.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}
