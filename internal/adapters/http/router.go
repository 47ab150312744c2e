package http

import (
	"context"

	"github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeshSessions", store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	h := sessionsHandler{orch: o}
	r.GET("/healthz", h.health)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("auth", cfg.AuthToken != "").Msg("router setup")

	api := r.Group("/api", TokenMiddleware(cfg.AuthToken))
	api.GET("/sessions", h.list)
	api.GET("/sessions/:id", h.members)

	ctrl := signal.NewSignalWSController(o, cfg)
	api.GET("/ws/signal", IdentityMiddleware(), func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
