package signal

import (
	"context"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id domain.Identity, c *WsSignalConn) {
	p := id.Participant
	defer func() {
		log.Info().Str("module", "signal").Str("participant", string(p)).Msg("readPump closing")
		ctl.Orch.Disconnect(p)
		c.Close()
	}()

	limiter := newInboundLimiter(ctl.rateLimit, ctl.rateBurst)
	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("participant", string(p)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("participant", string(p)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait))
			if !limiter.Allow() {
				ctl.sendError(c, protocol.CodeRateLimited, "slow down")
				continue
			}
			ctl.handleSignal(id, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(id domain.Identity, c *WsSignalConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("participant", string(id.Participant)).Msg("bad message")
		ctl.sendError(c, protocol.CodeBadPayload, err.Error())
		return
	}

	if msg.PointToPoint() {
		ctl.handleRelay(id, c, msg, data)
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(id, c, msg)
	case protocol.TypeLeave:
		ctl.handleLeave(id, c)
	case protocol.TypeEndSession:
		ctl.handleEndSession(id, c, msg)
	case protocol.TypeChat:
		ctl.handleChat(id, c, msg)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypePong:
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unexpected signal from client")
		ctl.sendError(c, protocol.CodeBadPayload, "unexpected message type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, msg protocol.Message) {
	b, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code, message string) {
	ctl.sendJSON(c, protocol.Errorf(code, message))
}
