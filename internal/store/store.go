// Package store holds what the signaling backends share: the backend
// contract served by the relay and the change hub feeding subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

var ErrAlreadyExists = errors.New("already exists")

// Backend is everything the relay server exposes.
type Backend interface {
	core.RecordLookup
	core.SignalingStore
	core.CandidateMailbox
	PutSessionRecord(ctx context.Context, rec domain.SessionRecord) error
	Close() error
}

func DocKey(id domain.CallID) string {
	return "doc/" + string(id)
}

func MailboxKey(id domain.CallID, owner domain.ParticipantID) string {
	return fmt.Sprintf("cand/%s/%s", id, owner)
}
