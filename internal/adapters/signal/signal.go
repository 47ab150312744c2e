package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// IdentityKey is the gin context key the handshake middleware stores a domain.Identity under.
const IdentityKey = "identity"

type SignalWSController struct {
	Orch *orch.Orchestrator

	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
	sendBuffer int
	rateLimit  float64
	rateBurst  int
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
		sendBuffer: cfg.SendBuffer,
		rateLimit:  cfg.RateLimit,
		rateBurst:  cfg.RateBurst,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	v, ok := c.Get(IdentityKey)
	id, _ := v.(domain.Identity)
	if !ok || id.Participant == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	p := id.Participant
	log.Info().Str("module", "signal").Str("participant", string(p)).Str("name", id.DisplayName).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(p, core.NewMemberSession(id, conn), cancel)
	ctl.sendWelcome(id, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}
