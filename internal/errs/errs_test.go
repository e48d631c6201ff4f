package errs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, KindRateLimited, KindOf(RateLimited("wait", time.Second)))
	require.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", Conflict("dup"))))
	require.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrNotFound)))
	require.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
	require.True(t, Is(Moderation("nope"), KindModeration))
	require.False(t, Is(fmt.Errorf("boom"), KindModeration))
}

func TestRemainingSecondsRoundsUp(t *testing.T) {
	e := RateLimited("wait", 299*time.Second+time.Millisecond)
	require.EqualValues(t, 300, e.RemainingSeconds())
}

func TestWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		kind   Kind
	}{
		{"rate limited", RateLimited("wait", 10*time.Second), http.StatusTooManyRequests, KindRateLimited},
		{"auth", AuthRequired("GitHub authentication required.", []string{"GitHub"}), http.StatusUnauthorized, KindAuthRequired},
		{"sentinel", ErrNotFound, http.StatusNotFound, KindNotFound},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Write(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, string(tc.kind), body["kind"])
			if tc.kind == KindRateLimited {
				require.EqualValues(t, 10, body["cooldown_remaining"])
			}
			if tc.kind == KindAuthRequired {
				require.Equal(t, []any{"GitHub"}, body["providers"])
			}
		})
	}
}
