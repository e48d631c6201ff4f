// Package catalog describes the external music service the queue forwards to.
package catalog

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type Track struct {
	ID         string   `json:"id"`
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	AlbumArt   string   `json:"album_art,omitempty"`
	DurationMs int      `json:"duration_ms"`
	Explicit   bool     `json:"explicit"`
}

func (t *Track) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// ArtistLine joins the artists the way they are shown to guests and stored in the audit log.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

type LiveQueue struct {
	CurrentlyPlaying *Track  `json:"currently_playing"`
	Queue            []Track `json:"queue"`
}

// Contains reports whether trackID is playing or queued.
func (q *LiveQueue) Contains(trackID string) bool {
	if q == nil {
		return false
	}
	if q.CurrentlyPlaying != nil && q.CurrentlyPlaying.ID == trackID {
		return true
	}
	for _, t := range q.Queue {
		if t.ID == trackID {
			return true
		}
	}
	return false
}

// Catalog is the playback capability. Failures are upstream failures and are retryable.
type Catalog interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]Track, error)
	GetTrack(ctx context.Context, id string) (*Track, error)
	Enqueue(ctx context.Context, trackURI string) error
	ReadLiveQueue(ctx context.Context) (*LiveQueue, error)
}

var trackID = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)

// ParseTrackRef extracts a track id from an open.spotify.com URL or a spotify:track: URI.
func ParseTrackRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "spotify:track:"); ok {
		return validID(rest)
	}

	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil || !strings.HasSuffix(u.Hostname(), "open.spotify.com") {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "track" {
			return validID(parts[i+1])
		}
	}
	return "", false
}

// ValidID reports whether id has the shape of a catalog track id.
func ValidID(id string) bool {
	return trackID.MatchString(id)
}

func validID(id string) (string, bool) {
	if !ValidID(id) {
		return "", false
	}
	return id, true
}
