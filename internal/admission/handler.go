package admission

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/queueview"
	"github.com/spotiqueue/server/internal/settings"
)

const tokenCookieMaxAge = 365 * 24 * 60 * 60

type QueueReader interface {
	Get(ctx context.Context) (*queueview.Snapshot, error)
	NowPlaying(ctx context.Context) *catalog.Track
}

// OAuth reports which external logins the deployment can offer guests.
type OAuth struct {
	GithubConfigured bool
	GoogleConfigured bool
}

type Handler struct {
	coord    *Coordinator
	queue    QueueReader
	settings settings.Source
	oauth    OAuth
	log      *zap.Logger
}

func NewHandler(coord *Coordinator, queue QueueReader, src settings.Source, oauth OAuth, log *zap.Logger) *Handler {
	return &Handler{coord: coord, queue: queue, settings: src, oauth: oauth, log: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	queue := r.Group("/queue")
	{
		queue.GET("", h.getQueue)
		queue.POST("/search", h.search)
		queue.POST("/add", h.add)
	}
	r.GET("/now-playing", h.nowPlaying)
	r.GET("/config", h.publicConfig)
	r.POST("/prequeue/submit", h.submitPrequeue)

	id := r.Group("/identity")
	{
		id.POST("", h.register)
		id.POST("/validate", h.validate)
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	if !IsRejection(err) {
		h.log.Error("admission request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	errs.Write(c, err)
}

func (h *Handler) add(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	req.Token = identity.TokenFromRequest(c, req.Token)

	res, err := h.coord.SubmitDirect(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) submitPrequeue(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	req.Token = identity.TokenFromRequest(c, req.Token)

	res, err := h.coord.SubmitPrequeue(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type SearchRequest struct {
	Query string `json:"query"`
}

func (h *Handler) search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation(err.Error()))
		return
	}
	tracks, err := h.coord.Search(c.Request.Context(), req.Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (h *Handler) getQueue(c *gin.Context) {
	snap, err := h.queue.Get(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) nowPlaying(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"track": h.queue.NowPlaying(c.Request.Context())})
}

type RegisterRequest struct {
	Username string `json:"username"`
}

func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	// An empty body is a plain token request.
	_ = c.ShouldBindJSON(&req)

	reg, err := h.coord.Register(c.Request.Context(), identity.TokenFromRequest(c, ""), req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(identity.TokenCookie, reg.Token, tokenCookieMaxAge, "/", "", false, true)

	if reg.RequiresUsername {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "Username is required",
			"kind":              errs.KindValidation,
			"requires_username": true,
			"fingerprint_id":    reg.Token,
		})
		return
	}
	c.JSON(http.StatusOK, reg)
}

type ValidateRequest struct {
	Token string `json:"fingerprint_id"`
}

func (h *Handler) validate(c *gin.Context) {
	var req ValidateRequest
	_ = c.ShouldBindJSON(&req)

	status, err := h.coord.Validate(c.Request.Context(), identity.TokenFromRequest(c, req.Token))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// publicConfig is the subset of runtime settings a guest page needs.
func (h *Handler) publicConfig(c *gin.Context) {
	v, err := h.settings.Values(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queueing_enabled":        v.QueueingEnabled,
		"prequeue_enabled":        v.PrequeueEnabled,
		"voting_enabled":          v.VotingEnabled,
		"voting_downvote_enabled": v.DownvoteEnabled,
		"require_username":        v.RequireUsername,
		"require_github_auth":     v.RequireGithubAuth,
		"require_google_auth":     v.RequireGoogleAuth,
		"github_oauth_configured": h.oauth.GithubConfigured,
		"google_oauth_configured": h.oauth.GoogleConfigured,
	})
}
