package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// CandidateRelay moves candidates through the mailbox store for one call:
// it writes the local participant's mailbox and reads the peer's.
type CandidateRelay struct {
	mailbox core.CandidateMailbox
	callID  domain.CallID
	self    domain.ParticipantID
	peer    domain.ParticipantID

	pubMu sync.Mutex

	logger zerolog.Logger
}

func NewCandidateRelay(mailbox core.CandidateMailbox, callID domain.CallID, self, peer domain.ParticipantID) *CandidateRelay {
	return &CandidateRelay{
		mailbox: mailbox,
		callID:  callID,
		self:    self,
		peer:    peer,
		logger: log.With().
			Str("module", "app.relay").
			Str("call_id", string(callID)).
			Str("self", string(self)).
			Logger(),
	}
}

// Publish appends c to the local mailbox. Calls are serialized so the stored
// order is the discovery order.
func (r *CandidateRelay) Publish(ctx context.Context, c domain.Candidate) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if err := r.mailbox.AppendCandidate(ctx, r.callID, r.self, c); err != nil {
		r.logger.Error().Err(err).Msg("publish candidate failed")
		return err
	}
	return nil
}

// Subscribe calls onCandidate for every candidate in the peer's mailbox:
// the existing ones first, then each new one exactly once, in order.
func (r *CandidateRelay) Subscribe(ctx context.Context, onCandidate func(domain.Candidate)) (core.Unsubscribe, error) {
	var (
		mu   sync.Mutex
		seen int
	)
	unsub, err := r.mailbox.SubscribeCandidates(ctx, r.callID, r.peer, func(list []domain.Candidate) {
		mu.Lock()
		defer mu.Unlock()
		if len(list) < seen {
			r.logger.Warn().Int("seen", seen).Int("len", len(list)).Msg("peer mailbox shrank")
			return
		}
		for _, c := range list[seen:] {
			onCandidate(c)
		}
		seen = len(list)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("peer", string(r.peer)).Msg("subscribed to peer candidates")
	return unsub, nil
}
