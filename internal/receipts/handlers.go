package receipts

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

// Handler provides HTTP endpoints for receipt inspection.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new receipt handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up read-only receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/channels/:id/receipts", h.ListHistory)
}

// ListHistory handles GET /v1/channels/:id/receipts?payer=&payee=&limit=
// A missing payer or payee defaults to this node.
func (h *Handler) ListHistory(c *gin.Context) {
	ch, err := channels.ParseChannelID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid channel id")
		return
	}
	payer, ok := peerParam(c, "payer", h.engine.Self())
	if !ok {
		return
	}
	payee, ok := peerParam(c, "payee", h.engine.Self())
	if !ok {
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	records, err := h.engine.History(c.Request.Context(), Triple{Channel: ch, Payer: payer, Payee: payee}, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipts": records,
		"count":    len(records),
	})
}

func peerParam(c *gin.Context, name string, def identity.PeerKey) (identity.PeerKey, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	k, err := identity.ParsePeerKey(raw)
	if err != nil {
		badRequest(c, "invalid "+name+" key")
		return identity.PeerKey{}, false
	}
	return k, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": msg,
	})
}
