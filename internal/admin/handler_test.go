package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/moderation"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/models"
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	router *gin.Engine
	mem    *store.Memory
	ledger *identity.Ledger
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMemory()
	log := zaptest.NewLogger(t)
	ledger := identity.NewLedger(mem, log)
	pub := &recordingPublisher{}
	svc := NewService(mem, ledger,
		cooldown.NewEngine(mem, ledger, lock.NewLocal(), log),
		moderation.NewBans(mem, log),
		settings.NewService(mem, pub, log),
		nil, pub, log)

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api"))
	return &fixture{router: r, mem: mem, ledger: ledger, pub: pub}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) guest(t *testing.T, id string, name string, seen time.Time) {
	t.Helper()
	g := &models.Identity{ID: id, FirstSeenAt: seen, Status: models.IdentityActive}
	if name != "" {
		g.DisplayName = &name
	}
	require.NoError(t, f.mem.CreateIdentity(context.Background(), g))
}

func TestDevices_NamedFirstAndBlock(t *testing.T) {
	f := newFixture(t)
	base := time.Unix(1_700_000_000, 0)
	f.guest(t, "anon-new", "", base.Add(3*time.Minute))
	f.guest(t, "named-old", "Ada", base)
	f.guest(t, "named-new", "Bob", base.Add(2*time.Minute))

	w := f.do(http.MethodGet, "/api/admin/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Devices []Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	ids := []string{}
	for _, d := range list.Devices {
		ids = append(ids, d.ID)
	}
	require.Equal(t, []string{"named-new", "named-old", "anon-new"}, ids)

	w = f.do(http.MethodPost, "/api/admin/devices/named-old/block", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, "/api/admin/devices?status=blocked", "")
	require.Contains(t, w.Body.String(), "named-old")
	require.NotContains(t, w.Body.String(), "anon-new")
	require.Len(t, f.pub.events, 1)
	require.Equal(t, events.EventTypeIdentityStatus, f.pub.events[0].Type)

	w = f.do(http.MethodGet, "/api/admin/devices?status=weird", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodPost, "/api/admin/devices/ghost/unblock", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceDetailAndCooldownReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.guest(t, "g", "", time.Now())
	expires := time.Now().Add(time.Minute)
	require.NoError(t, f.mem.SetCooldown(ctx, []string{"g"}, &expires))
	require.NoError(t, f.mem.InsertAttempt(ctx, &models.SubmissionAttempt{IdentityID: "g", Outcome: models.OutcomeSuccess, Timestamp: time.Now()}))

	w := f.do(http.MethodGet, "/api/admin/devices/g", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail DeviceDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.True(t, detail.Device.CoolingDown)
	require.EqualValues(t, 1, detail.TotalAttempts)
	require.Len(t, detail.Attempts, 1)

	w = f.do(http.MethodPost, "/api/admin/devices/g/reset-cooldown", "")
	require.Equal(t, http.StatusOK, w.Code)
	who, err := f.ledger.Get(ctx, "g")
	require.NoError(t, err)
	require.Nil(t, who.CooldownExpiresAt)
	require.NotNil(t, who.CooldownResetAt)

	w = f.do(http.MethodPost, "/api/admin/devices/missing/reset-cooldown", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBannedTracks(t *testing.T) {
	f := newFixture(t)
	id := strings.Repeat("b", 22)

	w := f.do(http.MethodPost, "/api/admin/banned-tracks", `{"track_id":"https://open.spotify.com/track/`+id+`","reason":"no"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(http.MethodPost, "/api/admin/banned-tracks", `{"track_id":"`+id+`"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	w = f.do(http.MethodPost, "/api/admin/banned-tracks", `{"track_id":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/admin/banned-tracks", "")
	require.Contains(t, w.Body.String(), id)

	w = f.do(http.MethodDelete, "/api/admin/banned-tracks/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodDelete, "/api/admin/banned-tracks/"+id, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsAndReset(t *testing.T) {
	f := newFixture(t)
	f.guest(t, "g", "", time.Now())

	w := f.do(http.MethodPut, "/api/admin/settings", `{"voting_enabled":"true","nonsense":"1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/admin/settings", `{"voting_enabled":"true"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"voting_enabled":"true"`)

	w = f.do(http.MethodGet, "/api/admin/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total":1`)

	w = f.do(http.MethodPost, "/api/admin/reset-all-data", "")
	require.Equal(t, http.StatusOK, w.Code)
	_, err := f.ledger.Get(context.Background(), "g")
	require.Error(t, err)

	w = f.do(http.MethodGet, "/api/admin/settings", "")
	require.Contains(t, w.Body.String(), `"voting_enabled":"true"`)
}
