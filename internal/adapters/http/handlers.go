package http

import (
	"net/http"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gin-gonic/gin"
)

type sessionsHandler struct {
	orch *orch.Orchestrator
}

func (h sessionsHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.orch.Registry.Count(),
	})
}

func (h sessionsHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.orch.Rooms.List()})
}

func (h sessionsHandler) members(c *gin.Context) {
	session := domain.SessionID(c.Param("id"))
	if err := session.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	members, ok := h.orch.Members(session)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "members": members})
}
