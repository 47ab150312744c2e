package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dkeye/Mesh/internal/adapters/signal"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultDisplayName = "guest"
	sessionNameKey     = "name"
)

func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// TokenMiddleware rejects requests without the shared token. An empty token disables the check.
func TokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(bearerToken(c)), []byte(token)) != 1 {
			log.Warn().Str("module", "adapters.http").Str("path", c.FullPath()).Msg("unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// IdentityMiddleware assigns the connection a fresh participant id and a display name.
// The name comes from the query, then from the cookie session, then the default.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		name := c.Query("name")
		if name != "" {
			sess.Set(sessionNameKey, name)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		} else if v, ok := sess.Get(sessionNameKey).(string); ok {
			name = v
		}
		if name == "" {
			name = defaultDisplayName
		}

		id, err := domain.NewIdentity(name)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(signal.IdentityKey, *id)
		c.Next()
	}
}
