package prequeue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/audit"
	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/catalog/catalogtest"
	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

type fixture struct {
	wf     *Workflow
	mem    *store.Memory
	cat    *catalogtest.Fake
	ledger *identity.Ledger
	queue  *countingInvalidator
}

var t4 = catalog.Track{ID: "T4", Name: "Four", Artists: []string{"Band"}, AlbumArt: "http://art/4"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	log := zaptest.NewLogger(t)
	locker := lock.NewLocal()
	ledger := identity.NewLedger(mem, log)
	cat := catalogtest.New(t4, catalog.Track{ID: "T5", Name: "Five"})
	queue := &countingInvalidator{}

	f := &fixture{mem: mem, cat: cat, ledger: ledger, queue: queue}
	f.wf = NewWorkflow(Deps{
		Store:    mem,
		Catalog:  cat,
		Ledger:   ledger,
		Cooldown: cooldown.NewEngine(mem, ledger, locker, log),
		Recorder: audit.NewRecorder(mem, nil, log),
		Locker:   locker,
		Settings: settings.NewService(mem, nil, log),
		Queue:    queue,
		Log:      log,
	})
	return f
}

func (f *fixture) guest(t *testing.T, id string) *models.Identity {
	t.Helper()
	g, err := f.ledger.Resolve(context.Background(), id)
	require.NoError(t, err)
	return g
}

func (f *fixture) attempts(t *testing.T, id string) []models.SubmissionAttempt {
	t.Helper()
	rows, err := f.mem.ListAttempts(context.Background(), id, 0)
	require.NoError(t, err)
	return rows
}

func TestWorkflow_SubmitApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	guest := f.guest(t, "G")

	entry, err := f.wf.Submit(ctx, guest, &t4)
	require.NoError(t, err)
	require.Equal(t, models.PrequeuePending, entry.Status)
	require.Equal(t, "http://art/4", *entry.AlbumArt)
	require.Zero(t, f.cat.EnqueueCount())

	approved, err := f.wf.Approve(ctx, entry.ID, "dj")
	require.NoError(t, err)
	require.Equal(t, models.PrequeueApproved, approved.Status)
	require.Equal(t, []string{"spotify:track:T4"}, f.cat.Enqueued)

	rows := f.attempts(t, "G")
	require.Len(t, rows, 1)
	require.Equal(t, models.OutcomeSuccess, rows[0].Outcome)
	require.Equal(t, "T4", *rows[0].TrackID)

	// Default policy is one song per window, so the approval closes the submitter's window.
	stored, err := f.mem.GetIdentity(ctx, "G")
	require.NoError(t, err)
	require.NotNil(t, stored.CooldownExpiresAt)
	require.Equal(t, 1, f.queue.n)

	_, err = f.wf.Approve(ctx, entry.ID, "dj")
	require.True(t, errs.Is(err, errs.KindConflict))
	_, err = f.wf.Decline(ctx, entry.ID, "dj")
	require.True(t, errs.Is(err, errs.KindConflict))

	got, err := f.mem.GetPrequeue(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.PrequeueApproved, got.Status)
	require.Equal(t, 1, f.cat.EnqueueCount())
}

func TestWorkflow_Decline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry, err := f.wf.Submit(ctx, f.guest(t, "G"), &t4)
	require.NoError(t, err)

	declined, err := f.wf.Decline(ctx, entry.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.PrequeueDeclined, declined.Status)
	require.Equal(t, "admin", *declined.ApprovedBy)

	_, err = f.wf.Approve(ctx, entry.ID, "dj")
	require.True(t, errs.Is(err, errs.KindConflict))
	require.Zero(t, f.cat.EnqueueCount())
	require.Empty(t, f.attempts(t, "G"))

	_, err = f.wf.Decline(ctx, "missing", "dj")
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestWorkflow_SubmitDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := f.guest(t, "A"), f.guest(t, "B")

	_, err := f.wf.Submit(ctx, a, &t4)
	require.NoError(t, err)
	_, err = f.wf.Submit(ctx, b, &t4)
	require.True(t, errs.Is(err, errs.KindConflict))

	five := catalog.Track{ID: "T5", Name: "Five"}
	f.cat.Set(func(c *catalogtest.Fake) { c.Playing = &five })
	_, err = f.wf.Submit(ctx, b, &five)
	require.True(t, errs.Is(err, errs.KindConflict))

	// A failing live-queue read does not block the submission.
	f.cat.Set(func(c *catalogtest.Fake) { c.ReadErr = catalogtest.ErrUnavailable })
	_, err = f.wf.Submit(ctx, b, &five)
	require.NoError(t, err)

	pending, err := f.wf.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestWorkflow_ApproveUpstreamFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry, err := f.wf.Submit(ctx, f.guest(t, "G"), &t4)
	require.NoError(t, err)

	f.cat.Set(func(c *catalogtest.Fake) { c.EnqueueErr = catalogtest.ErrUnavailable })
	_, err = f.wf.Approve(ctx, entry.ID, "dj")
	require.True(t, errs.Is(err, errs.KindUpstream))

	got, err := f.mem.GetPrequeue(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, models.PrequeuePending, got.Status)
	rows := f.attempts(t, "G")
	require.Len(t, rows, 1)
	require.Equal(t, models.OutcomeError, rows[0].Outcome)

	f.cat.Set(func(c *catalogtest.Fake) { c.EnqueueErr = nil })
	_, err = f.wf.Approve(ctx, entry.ID, "dj")
	require.NoError(t, err)
}

func TestWorkflow_ConcurrentApproveForwardsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entry, err := f.wf.Submit(ctx, f.guest(t, "G"), &t4)
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.wf.Approve(ctx, entry.ID, "dj")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errs.Is(err, errs.KindConflict) {
				clash++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, clash)
	require.Equal(t, 1, f.cat.EnqueueCount())
}

func TestWorkflow_ListValidatesStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.List(context.Background(), "archived")
	require.True(t, errs.Is(err, errs.KindValidation))
}
