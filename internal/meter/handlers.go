package meter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

// Handler exposes counter snapshots.
type Handler struct {
	meter *Meter
}

// NewHandler creates a new counters handler.
func NewHandler(m *Meter) *Handler {
	return &Handler{meter: m}
}

// RegisterRoutes sets up read-only counter routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/channels/:id/peers/:peer/counters", h.GetCounters)
	r.GET("/peers/:peer/totals", h.GetTotals)
}

// GetCounters handles GET /v1/channels/:id/peers/:peer/counters
func (h *Handler) GetCounters(c *gin.Context) {
	ch, err := channels.ParseChannelID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "message": "Invalid channel id"})
		return
	}
	peer, err := identity.ParsePeerKey(c.Param("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_peer", "message": "Invalid peer key"})
		return
	}
	counters, err := h.meter.Snapshot(ch, peer)
	if err != nil {
		if errors.Is(err, ErrUnknownChannel) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Channel not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":  ch,
		"peer":     peer,
		"counters": counters,
	})
}

// GetTotals handles GET /v1/peers/:peer/totals
func (h *Handler) GetTotals(c *gin.Context) {
	peer, err := identity.ParsePeerKey(c.Param("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_peer", "message": "Invalid peer key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"peer":   peer,
		"totals": h.meter.Totals(peer),
	})
}
