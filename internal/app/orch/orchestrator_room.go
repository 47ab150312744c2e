package orch

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

func encode(msg protocol.Message) core.Frame {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("type", string(msg.Type)).Msg("encode")
		return nil
	}
	return data
}

// Join adds p to session and announces it to the members already there, which are returned.
// Joining another session leaves the current one first. Re-joining the same session only re-announces.
func (o *Orchestrator) Join(p domain.ParticipantID, session domain.SessionID) ([]domain.ParticipantID, error) {
	ms, ok := o.Registry.GetMember(p)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	if cur, ok := o.Registry.SessionOf(p); ok && cur != session {
		o.Leave(p)
		log.Info().Str("module", "app.orch").Str("participant", string(p)).Str("from_session", string(cur)).Msg("left previous session")
	}

	announce := encode(protocol.Joined(session, p))
	for {
		room := o.Rooms.GetOrCreate(session)
		others, res, ok := room.Join(ms, announce)
		if !ok {
			// lost the race against the last member leaving
			o.Rooms.StopRoom(session, room)
			continue
		}
		o.Registry.UpdateSession(p, session)
		if !room.Has(p) {
			// ended or left between room.Join and UpdateSession
			o.Registry.ClearSession(p, session)
		}
		o.handleDropped(room, res)
		log.Info().Str("module", "app.orch").Str("participant", string(p)).Str("session", string(session)).Int("others", len(others)).Msg("joined")
		return others, nil
	}
}

// Leave removes p from its session. An emptied session is discarded.
func (o *Orchestrator) Leave(p domain.ParticipantID) bool {
	session, ok := o.Registry.SessionOf(p)
	if !ok {
		return false
	}
	o.Registry.ClearSession(p, session)
	room, ok := o.Rooms.Get(session)
	if !ok {
		return false
	}
	res, empty, removed := room.Leave(p, encode(protocol.Left(session, p)))
	if empty {
		o.Rooms.StopRoom(session, room)
	}
	o.handleDropped(room, res)
	if removed {
		log.Info().Str("module", "app.orch").Str("participant", string(p)).Str("session", string(session)).Bool("empty", empty).Msg("left")
	}
	return removed
}

// Disconnect is the implicit leave on transport loss. It also cancels the connection context.
func (o *Orchestrator) Disconnect(p domain.ParticipantID) {
	o.Leave(p)
	o.Registry.Cancel(p)
	o.Registry.Unbind(p)
}

// EndSession tells every other member the session is over and discards it.
func (o *Orchestrator) EndSession(p domain.ParticipantID, session domain.SessionID) error {
	cur, ok := o.Registry.SessionOf(p)
	if !ok || (session != "" && cur != session) {
		return ErrNotInSession
	}
	room, ok := o.Rooms.Get(cur)
	if !ok {
		return ErrNotInSession
	}
	members, res := room.Close(p, encode(protocol.EndSession(cur)))
	o.Rooms.StopRoom(cur, room)
	for _, m := range members {
		o.Registry.ClearSession(m.Identity().Participant, cur)
	}
	o.handleDropped(room, res)
	log.Info().Str("module", "app.orch").Str("participant", string(p)).Str("session", string(cur)).Int("evicted", len(members)).Msg("session ended")
	return nil
}

// Chat broadcasts text to the other members of p's session.
func (o *Orchestrator) Chat(p domain.ParticipantID, text string) error {
	session, ok := o.Registry.SessionOf(p)
	if !ok {
		return ErrNotInSession
	}
	room, ok := o.Rooms.Get(session)
	if !ok {
		return ErrNotInSession
	}
	o.handleDropped(room, room.Broadcast(p, encode(protocol.Chat(session, p, text))))
	return nil
}

func (o *Orchestrator) Members(session domain.SessionID) ([]core.MemberDTO, bool) {
	room, ok := o.Rooms.Get(session)
	if !ok {
		return nil, false
	}
	return room.MembersSnapshot(), true
}
