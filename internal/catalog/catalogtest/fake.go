// Package catalogtest provides an in-memory catalog for tests.
package catalogtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spotiqueue/server/internal/catalog"
)

var ErrUnavailable = errors.New("catalog unavailable")

// Fake serves a fixed track set. Enqueued tracks are appended to the live queue.
type Fake struct {
	mu sync.Mutex

	Tracks  map[string]catalog.Track
	Playing *catalog.Track
	Live    []catalog.Track

	GetErr     error
	EnqueueErr error
	ReadErr    error
	SearchErr  error

	// ReadHook, when set, runs inside ReadLiveQueue before it returns.
	ReadHook func()
	// EnqueueHook, when set, runs after a successful Enqueue.
	EnqueueHook func()

	Enqueued  []string
	ReadCalls int
}

var _ catalog.Catalog = (*Fake)(nil)

func New(tracks ...catalog.Track) *Fake {
	f := &Fake{Tracks: make(map[string]catalog.Track)}
	for _, t := range tracks {
		f.Add(t)
	}
	return f
}

func (f *Fake) Add(t catalog.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.URI == "" {
		t.URI = "spotify:track:" + t.ID
	}
	f.Tracks[t.ID] = t
}

func (f *Fake) Set(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *Fake) SearchTracks(_ context.Context, query string, limit int) ([]catalog.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var out []catalog.Track
	for _, t := range f.Tracks {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(query)) {
			out = append(out, t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) GetTrack(_ context.Context, id string) (*catalog.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	t, ok := f.Tracks[id]
	if !ok {
		return nil, errors.New("track not found")
	}
	return &t, nil
}

func (f *Fake) Enqueue(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnqueueErr != nil {
		return f.EnqueueErr
	}
	f.Enqueued = append(f.Enqueued, uri)
	id := strings.TrimPrefix(uri, "spotify:track:")
	t, ok := f.Tracks[id]
	if !ok {
		t = catalog.Track{ID: id, URI: uri}
	}
	f.Live = append(f.Live, t)
	if f.EnqueueHook != nil {
		f.EnqueueHook()
	}
	return nil
}

func (f *Fake) ReadLiveQueue(_ context.Context) (*catalog.LiveQueue, error) {
	f.mu.Lock()
	f.ReadCalls++
	hook := f.ReadHook
	err := f.ReadErr
	q := &catalog.LiveQueue{Queue: append([]catalog.Track(nil), f.Live...)}
	if f.Playing != nil {
		p := *f.Playing
		q.CurrentlyPlaying = &p
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (f *Fake) EnqueueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Enqueued)
}

func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadCalls
}
