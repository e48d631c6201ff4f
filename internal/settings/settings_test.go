package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
)

func TestService_DefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, nil, zaptest.NewLogger(t))

	v, err := svc.Values(ctx)
	require.NoError(t, err)
	require.Equal(t, Defaults(), v)
	require.True(t, v.QueueingEnabled)
	require.True(t, v.FingerprintingEnabled)
	require.Equal(t, 300*time.Second, v.CooldownDuration)
	require.Equal(t, 1, v.SongsBeforeCooldown)
	require.False(t, v.VotingEnabled)
	require.True(t, v.DownvoteEnabled)

	require.NoError(t, svc.Set(ctx, map[string]string{
		KeyVotingEnabled:       "true",
		KeySongsBeforeCooldown: "3",
		KeyMaxSongDuration:     "420",
	}))
	v, err = svc.Values(ctx)
	require.NoError(t, err)
	require.True(t, v.VotingEnabled)
	require.Equal(t, 3, v.SongsBeforeCooldown)
	require.Equal(t, 7*time.Minute, v.MaxSongDuration)
}

func TestService_SetRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, nil, zaptest.NewLogger(t))

	tests := []struct {
		name    string
		updates map[string]string
	}{
		{"empty", map[string]string{}},
		{"unknown key", map[string]string{"volume": "11"}},
		{"bad bool", map[string]string{KeyBanExplicit: "yes please"}},
		{"negative seconds", map[string]string{KeyCooldownDuration: "-1"}},
		{"zero count", map[string]string{KeySongsBeforeCooldown: "0"}},
		{"cooldown past a week", map[string]string{KeyCooldownDuration: "604801"}},
		{"cooldown overflowing a duration", map[string]string{KeyCooldownDuration: "10000000000"}},
		{"max duration overflowing a duration", map[string]string{KeyMaxSongDuration: "10000000000"}},
		{"one bad among good", map[string]string{KeyVotingEnabled: "true", KeyCooldownDuration: "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Set(ctx, tt.updates)
			require.True(t, errs.Is(err, errs.KindValidation))
		})
	}

	all, err := mem.AllSettings(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestService_ListenersAndRaw(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, nil, zaptest.NewLogger(t))

	var got []string
	svc.OnChange(func(keys []string) { got = keys })
	require.NoError(t, svc.Set(ctx, map[string]string{KeyAutoPromote: "true", KeyVotingEnabled: "true"}))
	require.Equal(t, []string{KeyAutoPromote, KeyVotingEnabled}, got)

	raw, err := svc.Raw(ctx)
	require.NoError(t, err)
	require.Len(t, raw, len(known))
	require.Equal(t, "true", raw[KeyAutoPromote])
	require.Equal(t, "300", raw[KeyCooldownDuration])
}

func TestParse_IgnoresMalformedStoredValues(t *testing.T) {
	v, err := parse(map[string]string{KeyCooldownDuration: "abc", KeyVotingEnabled: "TRUE"})
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, v.CooldownDuration)
	require.True(t, v.VotingEnabled)

	v, err = parse(map[string]string{KeyCooldownDuration: "10000000000", KeyMaxSongDuration: "604800"})
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, v.CooldownDuration)
	require.Equal(t, 7*24*time.Hour, v.MaxSongDuration)
}
