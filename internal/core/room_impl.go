package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	session domain.SessionID
	mu      sync.RWMutex
	members map[domain.ParticipantID]MemberSession
	closed  bool
}

func NewRoomService(session domain.SessionID) RoomService {
	return &roomImpl{
		session: session,
		members: make(map[domain.ParticipantID]MemberSession),
	}
}

func (r *roomImpl) Session() domain.SessionID { return r.session }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Has(p domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[p]
	return ok
}

func (r *roomImpl) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *roomImpl) Members() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked("")
}

// idsLocked returns member ids in a stable order, skipping except.
func (r *roomImpl) idsLocked(except domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(r.members))
	for p := range r.members {
		if p != except {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *roomImpl) Join(ms MemberSession, announce Frame) ([]domain.ParticipantID, PublishResult, bool) {
	p := ms.Identity().Participant
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, PublishResult{}, false
	}
	others := r.idsLocked(p)
	r.members[p] = ms
	res := r.fanoutLocked(p, announce)
	log.Info().Str("module", "core.room").Str("session", string(r.session)).Str("participant", string(p)).Int("members", len(r.members)).Msg("member joined")
	return others, res, true
}

func (r *roomImpl) Leave(p domain.ParticipantID, announce Frame) (PublishResult, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[p]; !ok {
		return PublishResult{}, len(r.members) == 0, false
	}
	delete(r.members, p)
	res := r.fanoutLocked(p, announce)
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	}
	log.Info().Str("module", "core.room").Str("session", string(r.session)).Str("participant", string(p)).Int("members", len(r.members)).Msg("member left")
	return res, empty, true
}

func (r *roomImpl) Forward(from, to domain.ParticipantID, data Frame) (MemberSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.members[from]; !ok {
		return nil, ErrNotMember
	}
	target, ok := r.members[to]
	if !ok {
		return nil, ErrNotMember
	}
	if err := target.Signal().TrySend(data); err != nil {
		return target, err
	}
	return target, nil
}

func (r *roomImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.fanoutLocked(from, data)
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Close(from domain.ParticipantID, data Frame) ([]MemberSession, PublishResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.fanoutLocked(from, data)
	out := make([]MemberSession, 0, len(r.members))
	for _, ms := range r.members {
		out = append(out, ms)
	}
	r.members = make(map[domain.ParticipantID]MemberSession)
	r.closed = true
	log.Info().Str("module", "core.room").Str("session", string(r.session)).Str("by", string(from)).Int("evicted", len(out)).Msg("room closed")
	return out, res
}

func (r *roomImpl) fanoutLocked(from domain.ParticipantID, data Frame) PublishResult {
	res := PublishResult{}
	if data == nil {
		return res
	}
	for p, m := range r.members {
		if p == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.members))
	for _, p := range r.idsLocked("") {
		id := r.members[p].Identity()
		out = append(out, MemberDTO{Participant: id.Participant, Name: id.DisplayName})
	}
	return out
}
