package channels

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/validation"
)

// Handler exposes the registry to the channel lifecycle authority.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new channel handler.
func NewHandler(r *Registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRoutes sets up read-only routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/channels", h.ListChannels)
	r.GET("/channels/:id", h.GetChannel)
	r.GET("/drives/:key", h.GetDrive)
}

// RegisterProtectedRoutes sets up mutating routes. The caller gates them.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/channels", h.CreateChannel)
	r.DELETE("/channels/:id", h.CloseChannel)
	r.PUT("/drives/:key", h.SetDrive)
}

// CreateChannelRequest is the body of POST /v1/channels.
type CreateChannelRequest struct {
	ID          string   `json:"id"`
	Owner       string   `json:"owner"`
	Drive       string   `json:"drive"`
	ContentHash string   `json:"contentHash"`
	Flags       Flags    `json:"flags"`
	Receivers   []string `json:"receivers"`
}

// CreateChannel handles POST /v1/channels
func (h *Handler) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}
	if errs := validation.Validate(
		validation.Required("id", req.ID),
		validation.ValidKey("id", req.ID),
		validation.Required("owner", req.Owner),
		validation.ValidKey("owner", req.Owner),
		validation.Required("drive", req.Drive),
		validation.ValidKey("drive", req.Drive),
		validation.ValidKey("contentHash", req.ContentHash),
		validation.ValidKeys("receivers", req.Receivers, validation.MaxReceivers),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	var ch Channel
	// Formats were checked above.
	_ = ch.ID.UnmarshalText([]byte(req.ID))
	_ = ch.Owner.UnmarshalText([]byte(req.Owner))
	_ = ch.Drive.UnmarshalText([]byte(req.Drive))
	if req.ContentHash != "" {
		_ = ch.ContentHash.UnmarshalText([]byte(req.ContentHash))
	}
	ch.Flags = req.Flags
	for _, r := range req.Receivers {
		var k identity.PeerKey
		_ = k.UnmarshalText([]byte(r))
		ch.Receivers = append(ch.Receivers, k)
	}

	if err := h.registry.Create(c.Request.Context(), ch); err != nil {
		h.writeError(c, err)
		return
	}
	created, _ := h.registry.Lookup(ch.ID)
	c.JSON(http.StatusCreated, gin.H{"channel": created})
}

// CloseChannel handles DELETE /v1/channels/:id
func (h *Handler) CloseChannel(c *gin.Context) {
	id, err := ParseChannelID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id", "Invalid channel id")
		return
	}
	if err := h.registry.Close(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": id})
}

// GetChannel handles GET /v1/channels/:id
func (h *Handler) GetChannel(c *gin.Context) {
	id, err := ParseChannelID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id", "Invalid channel id")
		return
	}
	ch, err := h.registry.Lookup(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

// ListChannels handles GET /v1/channels
func (h *Handler) ListChannels(c *gin.Context) {
	list := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"channels": list,
		"count":    len(list),
	})
}

// SetDriveRequest is the body of PUT /v1/drives/:key.
type SetDriveRequest struct {
	Replicators []string `json:"replicators"`
}

// SetDrive handles PUT /v1/drives/:key
func (h *Handler) SetDrive(c *gin.Context) {
	key, err := identity.ParsePeerKey(c.Param("key"))
	if err != nil {
		badRequest(c, "invalid_key", "Invalid drive key")
		return
	}
	var req SetDriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}
	if errs := validation.Validate(
		validation.ValidKeys("replicators", req.Replicators, validation.MaxReplicators),
	); len(errs) > 0 {
		badRequest(c, "validation_failed", errs.Error())
		return
	}

	d := Drive{Key: key}
	for _, r := range req.Replicators {
		var k identity.PeerKey
		_ = k.UnmarshalText([]byte(r))
		d.Replicators = append(d.Replicators, k)
	}
	if err := h.registry.SetDrive(c.Request.Context(), d); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drive": Drive{Key: key, Replicators: h.registry.DriveReplicators(key)}})
}

// GetDrive handles GET /v1/drives/:key
func (h *Handler) GetDrive(c *gin.Context) {
	key, err := identity.ParsePeerKey(c.Param("key"))
	if err != nil {
		badRequest(c, "invalid_key", "Invalid drive key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"drive": Drive{Key: key, Replicators: h.registry.DriveReplicators(key)}})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Channel not found"})
	case errors.Is(err, ErrChannelExists):
		c.JSON(http.StatusConflict, gin.H{"error": "channel_exists", "message": "Channel already registered"})
	case errors.Is(err, ErrInvalidChannel), errors.Is(err, ErrInvalidDrive):
		badRequest(c, "invalid_request", err.Error())
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Registry update failed"})
	}
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   code,
		"message": msg,
	})
}
