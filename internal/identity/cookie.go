package identity

import "github.com/gin-gonic/gin"

// TokenCookie holds the guest device token between visits.
const TokenCookie = "fingerprint_id"

// TokenFromRequest returns fromBody when set, otherwise the token cookie.
func TokenFromRequest(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	token, _ := c.Cookie(TokenCookie)
	return token
}
