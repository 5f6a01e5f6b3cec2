package session

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/driveledger/internal/identity"
)

// Handler exposes read-only session views.
type Handler struct {
	mgr *Manager
}

// NewHandler creates a new session handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{mgr: m}
}

// RegisterRoutes sets up session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:peer", h.GetSession)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.mgr.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
		"stopped":  h.mgr.Stopped(),
	})
}

// GetSession handles GET /v1/sessions/:peer
func (h *Handler) GetSession(c *gin.Context) {
	peer, err := identity.ParsePeerKey(c.Param("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_peer", "message": "Invalid peer key"})
		return
	}
	info, ok := h.mgr.Session(peer)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No session for peer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":       info,
		"requestedSize": h.mgr.RequestedSize(peer),
		"receivedSize":  h.mgr.ReceivedSize(peer),
	})
}
