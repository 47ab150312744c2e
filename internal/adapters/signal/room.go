package signal

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(id domain.Identity, conn *WsSignalConn, msg protocol.Message) {
	log.Info().Str("module", "signal").Str("participant", string(id.Participant)).Str("session", string(msg.Session)).Msg("join")
	others, err := ctl.Orch.Join(id.Participant, msg.Session)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("participant", string(id.Participant)).Msg("join failed")
		ctl.sendError(conn, protocol.CodeNotInRoom, err.Error())
		return
	}
	ctl.sendJSON(conn, protocol.RoomState(msg.Session, others))
}

// handleLeave leaves the current session; the connection stays open.
func (ctl *SignalWSController) handleLeave(id domain.Identity, conn *WsSignalConn) {
	session, ok := ctl.Orch.Registry.SessionOf(id.Participant)
	log.Info().Str("module", "signal").Str("participant", string(id.Participant)).Str("session", string(session)).Msg("leave")
	ctl.Orch.Leave(id.Participant)
	if ok {
		ctl.sendJSON(conn, protocol.Left(session, id.Participant))
	}
}

func (ctl *SignalWSController) handleEndSession(id domain.Identity, conn *WsSignalConn, msg protocol.Message) {
	if err := ctl.Orch.EndSession(id.Participant, msg.Session); err != nil {
		ctl.sendError(conn, protocol.CodeNotInRoom, err.Error())
	}
}

func (ctl *SignalWSController) handleChat(id domain.Identity, conn *WsSignalConn, msg protocol.Message) {
	if err := ctl.Orch.Chat(id.Participant, msg.Text); err != nil {
		ctl.sendError(conn, protocol.CodeNotInRoom, err.Error())
	}
}
