// Package auth covers the host side of authentication: the admin session and
// connecting the host's Spotify account that guest requests are forwarded to.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/spotify"
	"github.com/spotiqueue/server/pkg/jwt"
)

const (
	stateCookie = "spotify_state"
	adminName   = "admin"
)

// HostAccount is the Spotify account the guest queue is forwarded to.
type HostAccount interface {
	GetAuthURL(state string) string
	Connect(ctx context.Context, code string) error
	Connected(ctx context.Context) bool
	GetUser(ctx context.Context) (*spotify.User, error)
}

type Handler struct {
	host         HostAccount
	signer       *jwt.Signer
	passwordHash []byte
	frontendURL  string
	secure       bool
	log          *zap.Logger
}

type Options struct {
	// PasswordHash is a bcrypt hash. When empty, Password is hashed at startup.
	PasswordHash string
	Password     string
	FrontendURL  string
	Secure       bool
}

func NewHandler(host HostAccount, signer *jwt.Signer, opts Options, log *zap.Logger) (*Handler, error) {
	hash := []byte(opts.PasswordHash)
	if len(hash) == 0 && opts.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost); err != nil {
			return nil, err
		}
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "/"
	}
	return &Handler{
		host:         host,
		signer:       signer,
		passwordHash: hash,
		frontendURL:  opts.FrontendURL,
		secure:       opts.Secure,
		log:          log,
	}, nil
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.login)
		auth.POST("/logout", h.logout)
		auth.GET("/spotify/callback", h.callback)

		protected := auth.Group("", AuthMiddleware(h.signer))
		protected.GET("/session", h.session)
		protected.GET("/spotify/login", h.spotifyLogin)
		protected.GET("/spotify/status", h.status)
	}
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Write(c, errs.Validation("Password required"))
		return
	}
	if len(h.passwordHash) == 0 {
		errs.Write(c, errs.Disabled("Admin login is not configured"))
		return
	}
	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil {
		h.log.Warn("admin login rejected", zap.String("ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid password", "kind": errs.KindAuthRequired})
		return
	}

	token, err := h.signer.GenerateToken(adminName, RoleAdmin)
	if err != nil {
		errs.Write(c, errs.Internal("Failed to generate token", err))
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, token, 0, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

func (h *Handler) logout(c *gin.Context) {
	c.SetCookie(CookieName, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": c.GetString(UserKey), "role": c.GetString(RoleKey)})
}

func (h *Handler) spotifyLogin(c *gin.Context) {
	state := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"url": h.host.GetAuthURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		errs.Write(c, errs.Validation("code is required"))
		return
	}
	want, _ := c.Cookie(stateCookie)
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(c.Query("state"))) != 1 {
		errs.Write(c, errs.Validation("state mismatch"))
		return
	}

	if err := h.host.Connect(c.Request.Context(), code); err != nil {
		h.log.Error("spotify connect failed", zap.Error(err))
		errs.Write(c, errs.Upstream("Failed to connect Spotify account", err))
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", h.secure, true)
	h.log.Info("host spotify account connected")
	c.Redirect(http.StatusFound, h.frontendURL)
}

func (h *Handler) status(c *gin.Context) {
	if !h.host.Connected(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}
	user, err := h.host.GetUser(c.Request.Context())
	if err != nil {
		h.log.Warn("host token rejected", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "Invalid access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "user": user})
}
