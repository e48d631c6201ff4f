package errs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var statusByKind = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindAuthRequired: http.StatusUnauthorized,
	KindBlocked:      http.StatusForbidden,
	KindRateLimited:  http.StatusTooManyRequests,
	KindModeration:   http.StatusForbidden,
	KindConflict:     http.StatusConflict,
	KindUpstream:     http.StatusBadGateway,
	KindNotFound:     http.StatusNotFound,
	KindDisabled:     http.StatusServiceUnavailable,
	KindInternal:     http.StatusInternalServerError,
}

func HTTPStatus(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Write renders err as the JSON error body shared by every handler.
func Write(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, ErrNotFound) {
			e = NotFound("not found")
		} else {
			e = Internal("internal error", err)
		}
	}

	body := gin.H{
		"error": e.Message,
		"kind":  e.Kind,
	}
	if e.Kind == KindRateLimited {
		body["cooldown_remaining"] = e.RemainingSeconds()
	}
	if e.Kind == KindAuthRequired {
		body["providers"] = e.Providers
	}
	c.AbortWithStatusJSON(HTTPStatus(e.Kind), body)
}
