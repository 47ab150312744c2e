package signal

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offers, answers, candidates and media-state notices untouched.
// The relay never inspects session descriptions.
func (ctl *SignalWSController) handleRelay(id domain.Identity, conn *WsSignalConn, msg protocol.Message, data []byte) {
	if msg.From != id.Participant {
		log.Warn().Str("module", "signal").Str("participant", string(id.Participant)).Str("claimed", string(msg.From)).Msg("spoofed sender")
		ctl.sendError(conn, protocol.CodeForbidden, "from does not match connection")
		return
	}
	if err := ctl.Orch.Relay(msg.From, msg.To, data); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", string(msg.Type)).Str("from", string(msg.From)).Str("to", string(msg.To)).Msg("relay dropped")
	}
}
