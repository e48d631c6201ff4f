package prequeue

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/models"
)

// ModeratorKey is the gin context key the auth middleware stores the moderator name under.
const ModeratorKey = "user_id"

type Handler struct {
	workflow *Workflow
}

func NewHandler(workflow *Workflow) *Handler {
	return &Handler{workflow: workflow}
}

// RegisterRoutes mounts the moderator routes. r must already be behind admin auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	pq := r.Group("/prequeue")
	{
		pq.GET("/pending", h.pending)
		pq.GET("", h.list)
		pq.POST("/:id/approve", h.approve)
		pq.POST("/:id/decline", h.decline)
	}
}

type DecisionRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func (h *Handler) moderator(c *gin.Context) string {
	var req DecisionRequest
	_ = c.ShouldBindJSON(&req)
	if req.ApprovedBy != "" {
		return req.ApprovedBy
	}
	return c.GetString(ModeratorKey)
}

func (h *Handler) approve(c *gin.Context) {
	entry, err := h.workflow.Approve(c.Request.Context(), c.Param("id"), h.moderator(c))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Approved: %s", entry.TrackName),
		"entry":   entry,
	})
}

func (h *Handler) decline(c *gin.Context) {
	entry, err := h.workflow.Decline(c.Request.Context(), c.Param("id"), h.moderator(c))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Declined: %s", entry.TrackName),
		"entry":   entry,
	})
}

func (h *Handler) pending(c *gin.Context) {
	entries, err := h.workflow.Pending(c.Request.Context())
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": entries})
}

func (h *Handler) list(c *gin.Context) {
	entries, err := h.workflow.List(c.Request.Context(), models.PrequeueStatus(c.Query("status")))
	if err != nil {
		errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
