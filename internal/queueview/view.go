// Package queueview serves the guest-facing queue snapshot from a short-lived cache.
//
// Concurrent misses share one upstream read (singleflight). An upstream failure
// falls back to the last good snapshot regardless of age.
package queueview

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/pkg/metrics"
)

const DefaultTTL = 20 * time.Second

type Store interface {
	GuestQueued(ctx context.Context, trackIDs []string) (map[string]bool, error)
	NetVotes(ctx context.Context, trackIDs []string) (map[string]int, error)
}

type Entry struct {
	catalog.Track
	Votable  bool `json:"votable"`
	NetVotes int  `json:"net_votes"`
}

type Snapshot struct {
	CurrentlyPlaying *catalog.Track `json:"currently_playing"`
	Queue            []Entry        `json:"queue"`
	FetchedAt        time.Time      `json:"fetched_at"`
	Stale            bool           `json:"stale"`
}

type View struct {
	catalog  catalog.Catalog
	store    Store
	settings settings.Source
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	flight singleflight.Group

	mu         sync.Mutex
	cached     *Snapshot
	expires    time.Time
	generation uint64
}

func New(c catalog.Catalog, s Store, src settings.Source, ttl time.Duration, log *zap.Logger) *View {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &View{catalog: c, store: s, settings: src, ttl: ttl, log: log, now: time.Now}
}

// Invalidate forces the next read to fetch. The old snapshot is kept as the failure fallback.
func (v *View) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expires = time.Time{}
	v.generation++
}

// OnSettingsChange invalidates when a key that affects ordering changes.
func (v *View) OnSettingsChange(keys []string) {
	for _, k := range keys {
		switch k {
		case settings.KeyVotingEnabled, settings.KeyAutoPromote, settings.KeyDownvoteEnabled:
			v.Invalidate()
			return
		}
	}
}

func (v *View) Get(ctx context.Context) (*Snapshot, error) {
	v.mu.Lock()
	if v.cached != nil && v.now().Before(v.expires) {
		snap := v.cached
		v.mu.Unlock()
		metrics.QueueCacheHits.Inc()
		return snap, nil
	}
	gen := v.generation
	v.mu.Unlock()
	metrics.QueueCacheMisses.Inc()

	// The key carries the generation so reads after an invalidation never join a pre-invalidation fetch.
	res, err, _ := v.flight.Do(fmt.Sprintf("queue:%d", gen), func() (any, error) {
		return v.refresh(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Snapshot), nil
}

func (v *View) refresh(ctx context.Context, gen uint64) (*Snapshot, error) {
	snap, err := v.fetch(ctx)
	if err != nil {
		v.mu.Lock()
		last := v.cached
		v.mu.Unlock()
		if last == nil {
			return nil, err
		}
		v.log.Warn("serving stale queue snapshot", zap.Time("fetched_at", last.FetchedAt), zap.Error(err))
		metrics.QueueStaleServed.Inc()
		stale := *last
		stale.Stale = true
		return &stale, nil
	}

	v.mu.Lock()
	v.cached = snap
	if v.generation == gen {
		v.expires = snap.FetchedAt.Add(v.ttl)
	}
	v.mu.Unlock()
	return snap, nil
}

func (v *View) fetch(ctx context.Context) (*Snapshot, error) {
	live, err := v.catalog.ReadLiveQueue(ctx)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("read_queue").Inc()
		return nil, errs.Upstream("Failed to read the queue", err)
	}
	values, err := v.settings.Values(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(live.Queue))
	for i, t := range live.Queue {
		ids[i] = t.ID
	}

	var (
		votable map[string]bool
		net     map[string]int
	)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		votable, err = v.store.GuestQueued(ctx, ids)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		net, err = v.store.NetVotes(ctx, ids)
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("failed to annotate queue: %w", err)
	}

	entries := make([]Entry, len(live.Queue))
	for i, t := range live.Queue {
		entries[i] = Entry{Track: t, Votable: votable[t.ID], NetVotes: net[t.ID]}
	}
	if values.VotingEnabled && values.AutoPromote {
		entries = Promote(entries)
	}

	return &Snapshot{
		CurrentlyPlaying: live.CurrentlyPlaying,
		Queue:            entries,
		FetchedAt:        v.now(),
	}, nil
}

// Promote orders votable entries by descending net score ahead of every
// non-votable entry. Ties and host-curated entries keep their arrival order.
func Promote(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	var rest []Entry
	for _, e := range entries {
		if e.Votable {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NetVotes > out[j].NetVotes })
	return append(out, rest...)
}

// NowPlaying returns the current track, or nil when it cannot be read.
func (v *View) NowPlaying(ctx context.Context) *catalog.Track {
	snap, err := v.Get(ctx)
	if err != nil {
		v.log.Warn("now playing unavailable", zap.Error(err))
		return nil
	}
	return snap.CurrentlyPlaying
}
