package orch

import (
	"errors"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards an unmodified point-to-point frame from -> to.
// It is a no-op unless both are members of from's session.
func (o *Orchestrator) Relay(from, to domain.ParticipantID, data core.Frame) error {
	session, ok := o.Registry.SessionOf(from)
	if !ok {
		log.Debug().Str("module", "app.orch").Str("from", string(from)).Str("to", string(to)).Msg("relay dropped: sender not in session")
		return ErrNotInSession
	}
	room, ok := o.Rooms.Get(session)
	if !ok {
		return ErrNotInSession
	}
	target, err := room.Forward(from, to, data)
	switch {
	case errors.Is(err, core.ErrNotMember):
		log.Debug().Str("module", "app.orch").Str("session", string(session)).Str("from", string(from)).Str("to", string(to)).Msg("relay dropped: stale target")
		return err
	case err != nil:
		o.handleDropped(room, core.PublishResult{Dropped: []core.MemberSession{target}})
		return err
	}
	return nil
}
