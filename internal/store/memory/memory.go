// Package memory is an in-process signaling backend. Both participants of a
// test share one Store the way two browsers share a hosted document store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/store"
)

type mailboxKey struct {
	call  domain.CallID
	owner domain.ParticipantID
}

type Store struct {
	mu        sync.RWMutex
	records   map[domain.AppointmentID]domain.SessionRecord
	docs      map[domain.CallID]domain.SignalingDoc
	mailboxes map[mailboxKey][]domain.Candidate

	hub *store.Hub
	now func() time.Time
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		records:   make(map[domain.AppointmentID]domain.SessionRecord),
		docs:      make(map[domain.CallID]domain.SignalingDoc),
		mailboxes: make(map[mailboxKey][]domain.Candidate),
		hub:       store.NewHub(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) PutSessionRecord(_ context.Context, rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AppointmentID] = rec
	return nil
}

func (s *Store) GetSessionRecord(_ context.Context, id domain.AppointmentID) (domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.SessionRecord{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("appointment %s", id))
	}
	return rec, nil
}

func (s *Store) Create(_ context.Context, doc domain.SignalingDoc) error {
	s.mu.Lock()
	if _, ok := s.docs[doc.CallID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("call %s: %w", doc.CallID, store.ErrAlreadyExists)
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.CallStatusCreated
	}
	s.docs[doc.CallID] = doc
	s.mu.Unlock()

	s.hub.Notify(store.DocKey(doc.CallID))
	return nil
}

func (s *Store) Read(_ context.Context, id domain.CallID) (domain.SignalingDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return domain.SignalingDoc{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("call %s", id))
	}
	return doc, nil
}

func (s *Store) Update(_ context.Context, id domain.CallID, upd domain.DocUpdate) error {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewCallError(domain.CodeNotFound, fmt.Errorf("call %s", id))
	}
	next, err := doc.Apply(upd, s.now())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("update call %s: %w", id, err)
	}
	s.docs[id] = next
	s.mu.Unlock()

	s.hub.Notify(store.DocKey(id))
	return nil
}

func (s *Store) Latest(_ context.Context, appointment domain.AppointmentID) (domain.SignalingDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  domain.SignalingDoc
		found bool
	)
	for _, doc := range s.docs {
		if doc.AppointmentID != appointment || doc.Status == domain.CallStatusEnded {
			continue
		}
		if !found || doc.CreatedAt.After(best.CreatedAt) {
			best, found = doc, true
		}
	}
	if !found {
		return domain.SignalingDoc{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("no open call for appointment %s", appointment))
	}
	return best, nil
}

func (s *Store) Subscribe(ctx context.Context, id domain.CallID, fn func(domain.SignalingDoc)) (core.Unsubscribe, error) {
	if _, err := s.Read(ctx, id); err != nil {
		return nil, err
	}
	stop := s.hub.Watch(context.WithoutCancel(ctx), store.DocKey(id), func() {
		doc, err := s.Read(ctx, id)
		if err != nil {
			return
		}
		fn(doc)
	})
	return core.Unsubscribe(stop), nil
}

func (s *Store) AppendCandidate(_ context.Context, id domain.CallID, owner domain.ParticipantID, c domain.Candidate) error {
	key := mailboxKey{call: id, owner: owner}
	s.mu.Lock()
	s.mailboxes[key] = append(s.mailboxes[key], c)
	s.mu.Unlock()

	s.hub.Notify(store.MailboxKey(id, owner))
	return nil
}

func (s *Store) Candidates(_ context.Context, id domain.CallID, owner domain.ParticipantID) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.mailboxes[mailboxKey{call: id, owner: owner}]
	out := make([]domain.Candidate, len(list))
	copy(out, list)
	return out, nil
}

func (s *Store) SubscribeCandidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID, fn func([]domain.Candidate)) (core.Unsubscribe, error) {
	stop := s.hub.Watch(context.WithoutCancel(ctx), store.MailboxKey(id, owner), func() {
		list, _ := s.Candidates(ctx, id, owner)
		fn(list)
	})
	return core.Unsubscribe(stop), nil
}

// Watchers is the number of live subscriptions, for leak checks.
func (s *Store) Watchers() int { return s.hub.Count() }

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}
