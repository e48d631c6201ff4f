package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/catalog"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

func TestEvaluate(t *testing.T) {
	clean := &catalog.Track{ID: "t", DurationMs: 200_000}
	explicit := &catalog.Track{ID: "t", DurationMs: 200_000, Explicit: true}
	long := &catalog.Track{ID: "t", DurationMs: 600_000, Explicit: true}

	tests := []struct {
		name    string
		track   *catalog.Track
		banned  bool
		rules   Rules
		reason  Reason
		outcome models.Outcome
	}{
		{"clean passes", clean, false, Rules{BanExplicit: true, MaxSongDuration: 5 * time.Minute}, ReasonNone, ""},
		{"ban wins over everything", long, true, Rules{BanExplicit: true, MaxSongDuration: time.Minute}, ReasonBanned, models.OutcomeBanned},
		{"explicit before duration", long, false, Rules{BanExplicit: true, MaxSongDuration: time.Minute}, ReasonExplicit, models.OutcomeBlocked},
		{"explicit allowed when rule off", explicit, false, Rules{}, ReasonNone, ""},
		{"too long", long, false, Rules{MaxSongDuration: 5 * time.Minute}, ReasonTooLong, models.OutcomeBlocked},
		{"zero cap disables", long, false, Rules{MaxSongDuration: 0}, ReasonNone, ""},
		{"exactly at cap passes", clean, false, Rules{MaxSongDuration: 200 * time.Second}, ReasonNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.track, tt.banned, tt.rules)
			require.Equal(t, tt.reason, d.Reason)
			require.Equal(t, tt.reason == ReasonNone, d.Allowed)
			if !d.Allowed {
				require.Equal(t, tt.outcome, d.Outcome())
				require.True(t, errs.Is(d.Err(), errs.KindModeration))
			} else {
				require.NoError(t, d.Err())
			}
		})
	}

	require.Equal(t, "Songs longer than 5:00 are not allowed.",
		Evaluate(long, false, Rules{MaxSongDuration: 5 * time.Minute}).Message)
}

func TestFilterExplicit(t *testing.T) {
	tracks := []catalog.Track{{ID: "a"}, {ID: "b", Explicit: true}, {ID: "c"}}
	require.Len(t, FilterExplicit(tracks, Rules{}), 3)

	filtered := FilterExplicit(tracks, Rules{BanExplicit: true})
	require.Equal(t, []catalog.Track{{ID: "a"}, {ID: "c"}}, filtered)
	require.Len(t, tracks, 3)
}

func TestBans(t *testing.T) {
	ctx := context.Background()
	b := NewBans(store.NewMemory(), zaptest.NewLogger(t))

	require.NoError(t, b.Ban(ctx, "4uLU6hMCjMI75M1A2tKUQC", "", "too loud"))
	require.True(t, errs.Is(b.Ban(ctx, "spotify:track:4uLU6hMCjMI75M1A2tKUQC", "", ""), errs.KindConflict))
	require.True(t, errs.Is(b.Ban(ctx, " ", "", ""), errs.KindValidation))

	banned, err := b.IsBanned(ctx, "4uLU6hMCjMI75M1A2tKUQC")
	require.NoError(t, err)
	require.True(t, banned)

	list, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "too loud", *list[0].Reason)

	require.NoError(t, b.Unban(ctx, "4uLU6hMCjMI75M1A2tKUQC"))
	require.True(t, errs.Is(b.Unban(ctx, "4uLU6hMCjMI75M1A2tKUQC"), errs.KindNotFound))
}
