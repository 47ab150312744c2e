package signal

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// sendWelcome completes the handshake: it is always the first frame on a connection.
func (ctl *SignalWSController) sendWelcome(id domain.Identity, conn *WsSignalConn) {
	log.Debug().Str("module", "signal").Str("participant", string(id.Participant)).Msg("welcome")
	ctl.sendJSON(conn, protocol.Welcome(id))
}
