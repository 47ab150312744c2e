package orch

import (
	"errors"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNotInSession       = errors.New("participant is not in a session")
)

// Orchestrator applies membership and relay operations on top of the rooms and the registry.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

func (o *Orchestrator) handleDropped(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		p := slow.Identity().Participant
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("session", string(room.Session())).Str("participant", string(p)).Msg("kicking slow member")
			slow.Signal().Close()
		case app.NoAction:
			log.Debug().Str("module", "app.orch").Str("session", string(room.Session())).Str("participant", string(p)).Msg("frame dropped for slow member")
		}
	}
}
