package admission

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/queueview"
	"github.com/spotiqueue/server/internal/settings"
)

func newRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)
	view := queueview.New(f.cat, f.mem, f.settings, time.Minute, log)
	h := NewHandler(f.coord, view, f.settings, OAuth{GithubConfigured: true}, log)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func post(r http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandler_RegisterThenQueueWithCookie(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)

	w := post(r, "/api/identity", `{"username":"Sam"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.TokenCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, cookie.Value, decode(t, w)["fingerprint_id"])

	w = post(r, "/api/queue/add", `{"trackId":"`+t1.ID+`"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, true, decode(t, w)["success"])

	w = post(r, "/api/queue/add", `{"trackUrl":"spotify:track:`+t2.ID+`"}`, cookie)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	require.Equal(t, "rate_limited", body["kind"])
	require.InDelta(t, 300, body["cooldown_remaining"], 2)

	w = post(r, "/api/identity/validate", `{}`, cookie)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)

	w := post(r, "/api/queue/add", `{"trackId":"`+t1.ID+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Could not fingerprint your device.", decode(t, w)["error"])

	require.NoError(t, f.bans.Ban(t.Context(), t1.ID, "", ""))
	w = post(r, "/api/queue/add", `{"fingerprint_id":"abc","trackId":"`+t1.ID+`"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "moderation_rejected", decode(t, w)["kind"])

	w = post(r, "/api/prequeue/submit", `{"fingerprint_id":"abc","trackId":"`+t2.ID+`"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.set(t, settings.KeyRequireGoogleAuth, "true")
	w = post(r, "/api/queue/add", `{"fingerprint_id":"abc","trackId":"`+t2.ID+`"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, []any{"google"}, decode(t, w)["providers"])
}

func TestHandler_QueueAndConfig(t *testing.T) {
	f := newFixture(t)
	r := newRouter(t, f)

	w := post(r, "/api/queue/add", `{"fingerprint_id":"abc","trackId":"`+t1.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var snap queueview.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap.Queue, 1)
	require.True(t, snap.Queue[0].Votable)

	req = httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	cfg := decode(t, w)
	require.Equal(t, true, cfg["queueing_enabled"])
	require.Equal(t, true, cfg["github_oauth_configured"])
	require.Equal(t, false, cfg["google_oauth_configured"])
}
