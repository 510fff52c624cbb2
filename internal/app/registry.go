package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// SessionID names one watch connection on the relay server.
type SessionID string

type sessionEntry struct {
	CallID domain.CallID
	Cancel context.CancelFunc
	unsubs []core.Unsubscribe
}

// Registry tracks the live watch connections of the relay and the
// subscriptions each one holds, so a dropped socket releases them all.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[SessionID]*sessionEntry)}
}

func (r *Registry) Bind(sid SessionID, callID domain.CallID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{CallID: callID, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("call_id", string(callID)).Msg("bound session")
}

// AddSubscription hands unsub to the session. If the session is already gone
// unsub runs right away and false is returned.
func (r *Registry) AddSubscription(sid SessionID, unsub core.Unsubscribe) bool {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if ok {
		e.unsubs = append(e.unsubs, unsub)
	}
	r.mu.Unlock()
	if !ok {
		unsub()
	}
	return ok
}

func (r *Registry) CallOf(sid SessionID) (domain.CallID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	return e.CallID, true
}

// Unbind drops the session, cancels it and releases its subscriptions.
func (r *Registry) Unbind(sid SessionID) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, u := range e.unsubs {
		u()
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("subscriptions", len(e.unsubs)).Msg("unbind session")
}

// WatchersOf is the number of connections watching callID.
func (r *Registry) WatchersOf(callID domain.CallID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.CallID == callID {
			n++
		}
	}
	return n
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CancelAll closes every connection, used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	sids := make([]SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		sids = append(sids, sid)
	}
	r.mu.RUnlock()
	for _, sid := range sids {
		r.Unbind(sid)
	}
}
