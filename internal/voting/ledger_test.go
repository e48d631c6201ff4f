package voting

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

type invalidations struct {
	mu sync.Mutex
	n  int
}

func (i *invalidations) Invalidate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
}

type fixture struct {
	ledger   *Ledger
	mem      *store.Memory
	settings *settings.Service
	queue    *invalidations
}

func newFixture(t *testing.T, overrides map[string]string) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	log := zaptest.NewLogger(t)
	svc := settings.NewService(mem, nil, log)
	if len(overrides) > 0 {
		require.NoError(t, svc.Set(ctx, overrides))
	}
	queue := &invalidations{}
	f := &fixture{
		ledger:   NewLedger(mem, identity.NewLedger(mem, log), lock.NewLocal(), svc, queue, nil, log),
		mem:      mem,
		settings: svc,
		queue:    queue,
	}
	return f
}

func (f *fixture) guestQueued(t *testing.T, trackID string) {
	t.Helper()
	id := trackID
	require.NoError(t, f.mem.InsertAttempt(context.Background(), &models.SubmissionAttempt{
		IdentityID: "someone", TrackID: &id, Outcome: models.OutcomeSuccess, Timestamp: time.Now(),
	}))
}

func votingOn() map[string]string {
	return map[string]string{settings.KeyVotingEnabled: "true"}
}

func TestVote_DisabledDoesNotTouchVotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.guestQueued(t, "T1")

	_, err := f.ledger.Vote(ctx, "A", "T1", Up)
	require.True(t, errs.Is(err, errs.KindDisabled))

	net, err := f.mem.NetVotes(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, net)
}

func TestVote_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		settings.KeyVotingEnabled:   "true",
		settings.KeyDownvoteEnabled: "false",
	})
	f.guestQueued(t, "T1")

	_, err := f.ledger.Vote(ctx, "A", "T1", Down)
	require.True(t, errs.Is(err, errs.KindDisabled))
	_, err = f.ledger.Vote(ctx, "A", "T1", 2)
	require.True(t, errs.Is(err, errs.KindValidation))
	_, err = f.ledger.Vote(ctx, "A", "HOST", Up)
	require.True(t, errs.Is(err, errs.KindValidation))
	_, err = f.ledger.Vote(ctx, "", "T1", Up)
	require.True(t, errs.Is(err, errs.KindValidation))

	_, err = identity.NewLedger(f.mem, zaptest.NewLogger(t)).Resolve(ctx, "B")
	require.NoError(t, err)
	require.NoError(t, f.mem.SetIdentityStatus(ctx, "B", models.IdentityBlocked))
	_, err = f.ledger.Vote(ctx, "B", "T1", Up)
	require.True(t, errs.Is(err, errs.KindBlocked))

	net, err := f.mem.NetVotes(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, net)
}

func TestVote_ToggleAndFlip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, votingOn())
	f.guestQueued(t, "T1")

	_, err := f.ledger.Vote(ctx, "B", "T1", Up)
	require.NoError(t, err)

	res, err := f.ledger.Vote(ctx, "A", "T1", Up)
	require.NoError(t, err)
	require.Equal(t, Up, *res.UserVote)
	require.Equal(t, 2, res.NetVotes)

	res, err = f.ledger.Vote(ctx, "A", "T1", Down)
	require.NoError(t, err)
	require.Equal(t, Down, *res.UserVote)
	require.Equal(t, 0, res.NetVotes)

	res, err = f.ledger.Vote(ctx, "A", "T1", Down)
	require.NoError(t, err)
	require.Nil(t, res.UserVote)
	require.Equal(t, 1, res.NetVotes)

	snap, err := f.ledger.Snapshot(ctx, "B")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"T1": 1}, snap.NetByTrack)
	require.Equal(t, map[string]int{"T1": 1}, snap.UserVoteByTrack)
	require.True(t, snap.VotingEnabled)
	require.True(t, snap.DownvoteEnabled)

	anon, err := f.ledger.Snapshot(ctx, "")
	require.NoError(t, err)
	require.Empty(t, anon.UserVoteByTrack)
}

func TestVote_DoubleToggleRestoresScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, votingOn())
	f.guestQueued(t, "T1")
	_, err := f.ledger.Vote(ctx, "other", "T1", Down)
	require.NoError(t, err)

	for _, dir := range []int{Up, Down} {
		before, err := f.mem.NetVotes(ctx, []string{"T1"})
		require.NoError(t, err)

		_, err = f.ledger.Vote(ctx, "A", "T1", dir)
		require.NoError(t, err)
		res, err := f.ledger.Vote(ctx, "A", "T1", dir)
		require.NoError(t, err)

		require.Nil(t, res.UserVote)
		require.Equal(t, before["T1"], res.NetVotes)
	}
}

func TestVote_NetMatchesStoredVotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, votingOn())
	tracks := []string{"T1", "T2", "T3"}
	guests := []string{"a", "b", "c", "d", "e"}
	for _, tr := range tracks {
		f.guestQueued(t, tr)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		tr := tracks[rng.Intn(len(tracks))]
		g := guests[rng.Intn(len(guests))]
		dir := Up
		if rng.Intn(2) == 0 {
			dir = Down
		}
		res, err := f.ledger.Vote(ctx, g, tr, dir)
		require.NoError(t, err)

		want := 0
		for _, guest := range guests {
			if v, err := f.mem.GetVote(ctx, tr, guest); err == nil {
				want += v.Direction
			}
		}
		require.Equal(t, want, res.NetVotes, "step %d", i)
	}
}

func TestVote_ConcurrentDoubleClick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, votingOn())
	f.guestQueued(t, "T1")

	const clicks = 10
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Vote(ctx, "A", "T1", Up)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// An even number of toggles leaves no vote behind.
	_, err := f.mem.GetVote(ctx, "T1", "A")
	require.ErrorIs(t, err, errs.ErrNotFound)
	net, err := f.mem.NetVotes(ctx, []string{"T1"})
	require.NoError(t, err)
	require.Zero(t, net["T1"])
}

func TestVote_AutoPromoteInvalidatesQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, votingOn())
	f.guestQueued(t, "T1")

	_, err := f.ledger.Vote(ctx, "A", "T1", Up)
	require.NoError(t, err)
	require.Zero(t, f.queue.n)

	require.NoError(t, f.settings.Set(ctx, map[string]string{settings.KeyAutoPromote: "true"}))
	_, err = f.ledger.Vote(ctx, "A", "T1", Up)
	require.NoError(t, err)
	require.Equal(t, 1, f.queue.n)
}
