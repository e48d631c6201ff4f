package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/pkg/redis"
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]redis.TokenInfo
}

func (m *memTokens) GetTokens(_ context.Context, owner string) (*redis.TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[owner]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

func (m *memTokens) StoreTokens(_ context.Context, owner string, token *redis.TokenInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[owner] = *token
	return nil
}

func (m *memTokens) RefreshToken(_ context.Context, owner, access, refresh string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[owner]
	t.AccessToken, t.ExpiresAt = access, expiresAt
	if refresh != "" {
		t.RefreshToken = refresh
	}
	m.tokens[owner] = t
	return nil
}

func newTestClient(t *testing.T, h http.Handler, tokens *memTokens) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient("id", "secret", "http://localhost/callback", tokens, 5*time.Second)
	c.apiBase = srv.URL + "/v1"
	c.accountsBase = srv.URL
	return c
}

func TestClient_NotConnected(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), &memTokens{tokens: map[string]redis.TokenInfo{}})

	_, err := c.GetTrack(context.Background(), "x")
	require.ErrorIs(t, err, ErrNotConnected)
	require.False(t, c.Connected(context.Background()))
}

func TestClient_TrackQueueAndEnqueue(t *testing.T) {
	var enqueued string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tracks/abc", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer live", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Track{
			ID: "abc", Name: "Song", Duration: 180000, Explicit: true,
			Artists: []Artist{{Name: "A"}, {Name: "B"}},
			Album:   Album{Name: "LP", Images: []Image{{URL: "http://img"}}},
		})
	})
	mux.HandleFunc("/v1/me/player/queue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			enqueued = r.URL.Query().Get("uri")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(QueueResponse{
			CurrentlyPlaying: &Track{ID: "now", Name: "Now"},
			Queue:            []Track{{ID: "q1"}, {ID: "q2"}},
		})
	})
	tokens := &memTokens{tokens: map[string]redis.TokenInfo{
		redis.HostKey: {AccessToken: "live", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	c := newTestClient(t, mux, tokens)
	ctx := context.Background()

	track, err := c.GetTrack(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "spotify:track:abc", track.URI)
	require.Equal(t, "A, B", track.ArtistLine())
	require.Equal(t, 3*time.Minute, track.Duration())
	require.Equal(t, "http://img", track.AlbumArt)
	require.True(t, track.Explicit)

	q, err := c.ReadLiveQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, "now", q.CurrentlyPlaying.ID)
	require.Len(t, q.Queue, 2)

	require.NoError(t, c.Enqueue(ctx, track.URI))
	require.Equal(t, "spotify:track:abc", enqueued)
}

func TestClient_RefreshesExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "fresh", ExpiresIn: 3600})
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		require.Equal(t, "track", r.URL.Query().Get("type"))
		var resp SearchResponse
		resp.Tracks.Items = []Track{{ID: "s1", Name: "One"}}
		json.NewEncoder(w).Encode(resp)
	})
	tokens := &memTokens{tokens: map[string]redis.TokenInfo{
		redis.HostKey: {AccessToken: "stale", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(-time.Minute)},
	}}
	c := newTestClient(t, mux, tokens)

	tracks, err := c.SearchTracks(context.Background(), "one", 10)
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	stored, err := tokens.GetTokens(context.Background(), redis.HostKey)
	require.NoError(t, err)
	require.Equal(t, "fresh", stored.AccessToken)
	require.Equal(t, "old-refresh", stored.RefreshToken)
}

func TestClient_UpstreamStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me/player/queue", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no active device", http.StatusNotFound)
	})
	tokens := &memTokens{tokens: map[string]redis.TokenInfo{
		redis.HostKey: {AccessToken: "live", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	c := newTestClient(t, mux, tokens)

	err := c.Enqueue(context.Background(), "spotify:track:x")
	require.ErrorContains(t, err, "status 404")
}
