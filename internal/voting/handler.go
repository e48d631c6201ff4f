package voting

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	votes := r.Group("/votes")
	{
		votes.GET("", h.snapshot)
		votes.POST("", h.vote)
	}
}

type VoteRequest struct {
	Token     string `json:"fingerprint_id"`
	TrackID   string `json:"trackId" binding:"required"`
	Direction int    `json:"direction" binding:"required"`
}

func (h *Handler) vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}

	res, err := h.ledger.Vote(c.Request.Context(), identity.TokenFromRequest(c, req.Token), req.TrackID, req.Direction)
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// snapshot reports per-track votes for the caller's own cookie only.
func (h *Handler) snapshot(c *gin.Context) {
	snap, err := h.ledger.Snapshot(c.Request.Context(), identity.TokenFromRequest(c, ""))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
