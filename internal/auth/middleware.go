package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/jwt"
)

const (
	CookieName = "auth_token"
	// UserKey is the gin context key holding the authenticated admin name.
	UserKey = "user_id"
	RoleKey = "role"

	RoleAdmin = "admin"
)

// bearer extracts a token from the session cookie, the Authorization header, or the
// token query parameter (websocket clients cannot set headers).
func bearer(c *gin.Context) string {
	if token, err := c.Cookie(CookieName); err == nil && token != "" {
		return token
	}
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// AuthMiddleware admits requests carrying a valid admin token.
func AuthMiddleware(signer *jwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization token", "kind": errs.KindAuthRequired})
			return
		}

		claims, err := signer.ValidateToken(token)
		if err != nil || claims.Role != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "kind": errs.KindAuthRequired})
			return
		}

		c.Set(UserKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}
