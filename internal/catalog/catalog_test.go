package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTrackRef(t *testing.T) {
	const id = "4uLU6hMCjMI75M1A2tKUQC"
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"spotify:track:" + id, id, true},
		{"https://open.spotify.com/track/" + id, id, true},
		{"https://open.spotify.com/track/" + id + "?si=abc123", id, true},
		{"https://open.spotify.com/intl-de/track/" + id, id, true},
		{"open.spotify.com/track/" + id, id, true},
		{"  spotify:track:" + id + "  ", id, true},
		{"https://open.spotify.com/album/" + id, "", false},
		{"https://example.com/track/" + id, "", false},
		{"spotify:track:short", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTrackRef(tt.in)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLiveQueue_Contains(t *testing.T) {
	q := &LiveQueue{
		CurrentlyPlaying: &Track{ID: "now"},
		Queue:            []Track{{ID: "a"}, {ID: "b"}},
	}
	require.True(t, q.Contains("now"))
	require.True(t, q.Contains("b"))
	require.False(t, q.Contains("c"))

	var empty *LiveQueue
	require.False(t, empty.Contains("a"))
}
