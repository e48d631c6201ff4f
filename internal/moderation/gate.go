// Package moderation decides whether a track may enter the queue at all, independent of who asks.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonBanned   Reason = "banned"
	ReasonExplicit Reason = "explicit"
	ReasonTooLong  Reason = "too_long"
)

type Rules struct {
	BanExplicit     bool
	MaxSongDuration time.Duration // zero disables the cap
}

type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
}

// Outcome is the audit outcome recorded for a rejection.
func (d Decision) Outcome() models.Outcome {
	if d.Reason == ReasonBanned {
		return models.OutcomeBanned
	}
	return models.OutcomeBlocked
}

// Err is the classified rejection, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errs.Moderation(d.Message)
}

var allowed = Decision{Allowed: true}

// Evaluate runs the ban, explicit and duration checks in that order. The first failure wins.
func Evaluate(track *catalog.Track, banned bool, rules Rules) Decision {
	if banned {
		return Decision{Reason: ReasonBanned, Message: "This song is not allowed."}
	}
	if rules.BanExplicit && track.Explicit {
		return Decision{Reason: ReasonExplicit, Message: "Explicit songs are not allowed."}
	}
	if rules.MaxSongDuration > 0 && track.Duration() > rules.MaxSongDuration {
		return Decision{
			Reason:  ReasonTooLong,
			Message: fmt.Sprintf("Songs longer than %s are not allowed.", formatDuration(rules.MaxSongDuration)),
		}
	}
	return allowed
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// FilterExplicit drops explicit tracks from search results when the rule is on.
func FilterExplicit(tracks []catalog.Track, rules Rules) []catalog.Track {
	if !rules.BanExplicit {
		return tracks
	}
	out := tracks[:0:0]
	for _, t := range tracks {
		if !t.Explicit {
			out = append(out, t)
		}
	}
	return out
}

// Bans manages the moderator-curated ban list.
type Bans struct {
	store store.BanStore
	log   *zap.Logger
}

func NewBans(s store.BanStore, log *zap.Logger) *Bans {
	return &Bans{store: s, log: log}
}

func (b *Bans) IsBanned(ctx context.Context, trackID string) (bool, error) {
	banned, err := b.store.IsBanned(ctx, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to check ban list: %w", err)
	}
	return banned, nil
}

func (b *Bans) Ban(ctx context.Context, trackID, artistID, reason string) error {
	if id, ok := catalog.ParseTrackRef(trackID); ok {
		trackID = id
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return errs.Validation("Track ID required")
	}
	ban := &models.BannedTrack{TrackID: trackID}
	if artistID != "" {
		ban.ArtistID = &artistID
	}
	if reason != "" {
		ban.Reason = &reason
	}
	if err := b.store.BanTrack(ctx, ban); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return errs.Conflict("Track already banned")
		}
		return fmt.Errorf("failed to ban track: %w", err)
	}
	b.log.Info("track banned", zap.String("track", trackID))
	return nil
}

func (b *Bans) Unban(ctx context.Context, trackID string) error {
	if err := b.store.UnbanTrack(ctx, trackID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.NotFound("Banned track not found")
		}
		return fmt.Errorf("failed to unban track: %w", err)
	}
	b.log.Info("track unbanned", zap.String("track", trackID))
	return nil
}

func (b *Bans) List(ctx context.Context) ([]models.BannedTrack, error) {
	return b.store.ListBanned(ctx)
}
