package app

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session domain.SessionID
	Member  core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps every connected participant to its transport and its current session.
// A participant is in at most one session at a time.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.ParticipantID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.ParticipantID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(p domain.ParticipantID, ms core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p] = &sessionEntry{Member: ms, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("participant", string(p)).Msg("bound signal")
}

func (r *Registry) GetMember(p domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[p]; ok {
		return e.Member, true
	}
	return nil, false
}

func (r *Registry) Unbind(p domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, p)
	log.Info().Str("module", "app.registry").Str("participant", string(p)).Msg("unbind signal")
}

func (r *Registry) SessionOf(p domain.ParticipantID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[p]
	if !ok || e.Session == "" {
		return "", false
	}
	return e.Session, true
}

func (r *Registry) UpdateSession(p domain.ParticipantID, session domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[p]
	if !ok {
		return false
	}
	e.Session = session
	log.Debug().Str("module", "app.registry").Str("participant", string(p)).Str("session", string(session)).Msg("updated session")
	return true
}

// ClearSession forgets p's session only if it is still session.
func (r *Registry) ClearSession(p domain.ParticipantID, session domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[p]; ok && e.Session == session {
		e.Session = ""
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Cancel(p domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.entries[p]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("participant", string(p)).Msg("canceled connection")
	return true
}
