package voting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/spotiqueue/server/internal/identity"
)

func getSnapshot(t *testing.T, r http.Handler, path string, cookies ...*http.Cookie) Snapshot {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestHandler_SnapshotUsesOwnCookieOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, votingOn())
	f.guestQueued(t, "T1")
	_, err := f.ledger.Vote(context.Background(), "alice", "T1", Up)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(f.ledger).RegisterRoutes(r.Group("/api"))

	snap := getSnapshot(t, r, "/api/votes?fingerprint_id=alice")
	require.Equal(t, 1, snap.NetByTrack["T1"])
	require.Empty(t, snap.UserVoteByTrack)

	snap = getSnapshot(t, r, "/api/votes", &http.Cookie{Name: identity.TokenCookie, Value: "alice"})
	require.Equal(t, map[string]int{"T1": 1}, snap.UserVoteByTrack)
}
