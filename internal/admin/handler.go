package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the admin routes. r must already be behind admin auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		admin.GET("/devices", h.listDevices)
		admin.GET("/devices/:id", h.getDevice)
		admin.POST("/devices/:id/reset-cooldown", h.resetCooldown)
		admin.POST("/devices/:id/block", h.block)
		admin.POST("/devices/:id/unblock", h.unblock)
		admin.POST("/devices/:id/link", h.link)
		admin.POST("/reset-all-cooldowns", h.resetAllCooldowns)

		admin.GET("/banned-tracks", h.listBanned)
		admin.POST("/banned-tracks", h.ban)
		admin.DELETE("/banned-tracks/:trackId", h.unban)

		admin.GET("/stats", h.stats)
		admin.POST("/reset-all-data", h.resetAllData)

		admin.GET("/settings", h.getSettings)
		admin.PUT("/settings", h.putSettings)
	}
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.service.Devices(c.Request.Context(), models.IdentityStatus(c.Query("status")))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *Handler) getDevice(c *gin.Context) {
	detail, err := h.service.Device(c.Request.Context(), c.Param("id"))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) resetCooldown(c *gin.Context) {
	if err := h.service.ResetCooldown(c.Request.Context(), c.Param("id")); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cooldown reset"})
}

func (h *Handler) resetAllCooldowns(c *gin.Context) {
	if err := h.service.ResetAllCooldowns(c.Request.Context()); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "All cooldowns reset"})
}

func (h *Handler) block(c *gin.Context) {
	h.setStatus(c, models.IdentityBlocked, "Device blocked")
}

func (h *Handler) unblock(c *gin.Context) {
	h.setStatus(c, models.IdentityActive, "Device unblocked")
}

func (h *Handler) setStatus(c *gin.Context, status models.IdentityStatus, message string) {
	if err := h.service.SetStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

type LinkRequest struct {
	Provider    string `json:"provider" binding:"required"`
	AccountID   string `json:"account_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) link(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	who, err := h.service.Link(c.Request.Context(), c.Param("id"), req.Provider, req.AccountID, req.DisplayName)
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, who)
}

func (h *Handler) listBanned(c *gin.Context) {
	banned, err := h.service.Bans().List(c.Request.Context())
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": banned})
}

type BanRequest struct {
	TrackID  string `json:"track_id"`
	ArtistID string `json:"artist_id"`
	Reason   string `json:"reason"`
}

func (h *Handler) ban(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	if err := h.service.Bans().Ban(c.Request.Context(), req.TrackID, req.ArtistID, req.Reason); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Track banned"})
}

func (h *Handler) unban(c *gin.Context) {
	if err := h.service.Bans().Unban(c.Request.Context(), c.Param("trackId")); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Track unbanned"})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) resetAllData(c *gin.Context) {
	if err := h.service.ResetAllData(c.Request.Context()); err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "All data reset"})
}

func (h *Handler) getSettings(c *gin.Context) {
	raw, err := h.service.Settings().Raw(c.Request.Context())
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": raw})
}

func (h *Handler) putSettings(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	if err := h.service.Settings().Set(c.Request.Context(), updates); err != nil {
		errs.Write(c, err)
		return
	}
	raw, err := h.service.Settings().Raw(c.Request.Context())
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": raw})
}
