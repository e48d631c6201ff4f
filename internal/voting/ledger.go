// Package voting aggregates one signed vote per guest per guest-queued track.
package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/metrics"
	"github.com/spotiqueue/server/pkg/models"
)

const (
	Up   = 1
	Down = -1
)

type Store interface {
	store.VoteStore
	GuestQueued(ctx context.Context, trackIDs []string) (map[string]bool, error)
}

type Invalidator interface {
	Invalidate()
}

type Result struct {
	UserVote *int `json:"user_vote"`
	NetVotes int  `json:"net_votes"`
}

type Snapshot struct {
	NetByTrack      map[string]int `json:"votes"`
	UserVoteByTrack map[string]int `json:"user_votes"`
	VotingEnabled   bool           `json:"voting_enabled"`
	DownvoteEnabled bool           `json:"downvote_enabled"`
}

type Ledger struct {
	store     Store
	ids       *identity.Ledger
	locker    lock.Locker
	settings  settings.Source
	queue     Invalidator
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewLedger(s Store, ids *identity.Ledger, locker lock.Locker, src settings.Source, queue Invalidator, publisher events.Publisher, log *zap.Logger) *Ledger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Ledger{
		store:     s,
		ids:       ids,
		locker:    locker,
		settings:  src,
		queue:     queue,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Vote records direction for (trackID, token). Repeating the current direction
// removes the vote; the opposite direction flips it in place.
func (l *Ledger) Vote(ctx context.Context, token, trackID string, direction int) (*Result, error) {
	values, err := l.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	if !values.VotingEnabled {
		return nil, errs.Disabled("Voting is disabled.")
	}
	if direction != Up && direction != Down {
		return nil, errs.Validation("Vote direction must be 1 or -1.")
	}
	if direction == Down && !values.DownvoteEnabled {
		return nil, errs.Disabled("Downvotes are disabled.")
	}
	if trackID == "" {
		return nil, errs.Validation("Track ID required")
	}

	who, err := l.ids.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if who.Blocked() {
		return nil, errs.Blocked("This device is blocked.")
	}

	queued, err := l.store.GuestQueued(ctx, []string{trackID})
	if err != nil {
		return nil, fmt.Errorf("failed to check votability: %w", err)
	}
	if !queued[trackID] {
		return nil, errs.Validation("Only songs queued by guests can be voted on.")
	}

	unlock, err := l.locker.Lock(ctx, "vote:"+trackID+":"+who.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock vote: %w", err)
	}
	res, change, err := l.apply(ctx, trackID, who.ID, direction)
	unlock()
	if err != nil {
		return nil, err
	}

	metrics.VotesTotal.WithLabelValues(change).Inc()
	if values.AutoPromote && l.queue != nil {
		l.queue.Invalidate()
	}
	if ev, err := events.NewEvent(events.EventTypeVoteChanged, who.ID, events.VotePayload{
		TrackID: trackID, UserVote: res.UserVote, NetVotes: res.NetVotes,
	}); err == nil {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.log.Warn("failed to publish vote event", zap.Error(err))
		}
	}
	return res, nil
}

// apply runs under the (track, identity) lock.
func (l *Ledger) apply(ctx context.Context, trackID, identityID string, direction int) (*Result, string, error) {
	var (
		res    Result
		change string
	)
	existing, err := l.store.GetVote(ctx, trackID, identityID)
	switch {
	case err == nil && existing.Direction == direction:
		if err := l.store.DeleteVote(ctx, trackID, identityID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, "", fmt.Errorf("failed to remove vote: %w", err)
		}
		change = "removed"
	case err == nil || errors.Is(err, errs.ErrNotFound):
		change = "added"
		if existing != nil {
			change = "changed"
		}
		vote := &models.Vote{TrackID: trackID, IdentityID: identityID, Direction: direction, CreatedAt: l.now().UTC()}
		if err := l.store.PutVote(ctx, vote); err != nil {
			return nil, "", fmt.Errorf("failed to save vote: %w", err)
		}
		d := direction
		res.UserVote = &d
	default:
		return nil, "", fmt.Errorf("failed to load vote: %w", err)
	}

	net, err := l.store.NetVotes(ctx, []string{trackID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to sum votes: %w", err)
	}
	res.NetVotes = net[trackID]
	return &res, change, nil
}

// Snapshot aggregates net scores for every voted track and, when token is set, that guest's own votes.
func (l *Ledger) Snapshot(ctx context.Context, token string) (*Snapshot, error) {
	values, err := l.settings.Values(ctx)
	if err != nil {
		return nil, err
	}
	net, err := l.store.NetVotes(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sum votes: %w", err)
	}
	mine := map[string]int{}
	if token != "" {
		if mine, err = l.store.UserVotes(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to load user votes: %w", err)
		}
	}
	return &Snapshot{
		NetByTrack:      net,
		UserVoteByTrack: mine,
		VotingEnabled:   values.VotingEnabled,
		DownvoteEnabled: values.DownvoteEnabled,
	}, nil
}
