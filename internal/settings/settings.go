// Package settings is the runtime key-value configuration the host edits while the event runs.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/events"
)

const (
	KeyQueueingEnabled       = "queueing_enabled"
	KeyPrequeueEnabled       = "prequeue_enabled"
	KeyFingerprintingEnabled = "fingerprinting_enabled"
	KeyCooldownDuration      = "cooldown_duration"
	KeySongsBeforeCooldown   = "songs_before_cooldown"
	KeyVotingEnabled         = "voting_enabled"
	KeyDownvoteEnabled       = "voting_downvote_enabled"
	KeyAutoPromote           = "voting_auto_promote"
	KeyBanExplicit           = "ban_explicit"
	KeyMaxSongDuration       = "max_song_duration"
	KeyRequireUsername       = "require_username"
	KeyRequireGithubAuth     = "require_github_auth"
	KeyRequireGoogleAuth     = "require_google_auth"
)

type kind int

// maxSeconds bounds every seconds-valued setting.
const maxSeconds = 7 * 24 * 60 * 60

const (
	kindBool kind = iota
	kindSeconds
	kindCount
)

var known = map[string]struct {
	kind kind
	def  string
}{
	KeyQueueingEnabled:       {kindBool, "true"},
	KeyPrequeueEnabled:       {kindBool, "false"},
	KeyFingerprintingEnabled: {kindBool, "true"},
	KeyCooldownDuration:      {kindSeconds, "300"},
	KeySongsBeforeCooldown:   {kindCount, "1"},
	KeyVotingEnabled:         {kindBool, "false"},
	KeyDownvoteEnabled:       {kindBool, "true"},
	KeyAutoPromote:           {kindBool, "false"},
	KeyBanExplicit:           {kindBool, "false"},
	KeyMaxSongDuration:       {kindSeconds, "0"},
	KeyRequireUsername:       {kindBool, "false"},
	KeyRequireGithubAuth:     {kindBool, "false"},
	KeyRequireGoogleAuth:     {kindBool, "false"},
}

// Values is a typed snapshot of every recognized key, defaults applied.
type Values struct {
	QueueingEnabled       bool
	PrequeueEnabled       bool
	FingerprintingEnabled bool
	CooldownDuration      time.Duration
	SongsBeforeCooldown   int
	VotingEnabled         bool
	DownvoteEnabled       bool
	AutoPromote           bool
	BanExplicit           bool
	MaxSongDuration       time.Duration
	RequireUsername       bool
	RequireGithubAuth     bool
	RequireGoogleAuth     bool
}

// Defaults returns the values used when nothing is stored.
func Defaults() Values {
	v, _ := parse(nil)
	return v
}

// Source is the read side consumed by the admission components.
type Source interface {
	Values(ctx context.Context) (Values, error)
}

type Service struct {
	store     store.SettingStore
	publisher events.Publisher
	log       *zap.Logger

	mu        sync.RWMutex
	listeners []func(keys []string)
}

var _ Source = (*Service)(nil)

func NewService(s store.SettingStore, publisher events.Publisher, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: s, publisher: publisher, log: log}
}

// OnChange registers fn to run after every successful Set with the keys that were written.
func (s *Service) OnChange(fn func(keys []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Values reads the store on every call so all instances observe writes immediately.
func (s *Service) Values(ctx context.Context) (Values, error) {
	raw, err := s.store.AllSettings(ctx)
	if err != nil {
		return Values{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return parse(raw)
}

// Raw returns every recognized key as stored, with defaults filled in.
func (s *Service) Raw(ctx context.Context) (map[string]string, error) {
	stored, err := s.store.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	out := make(map[string]string, len(known))
	for key, setting := range known {
		out[key] = setting.def
		if v, ok := stored[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

// Set validates and writes updates. Unknown keys and malformed values are rejected before anything is written.
func (s *Service) Set(ctx context.Context, updates map[string]string) error {
	if len(updates) == 0 {
		return errs.Validation("no settings provided")
	}
	keys := make([]string, 0, len(updates))
	for key, value := range updates {
		setting, ok := known[key]
		if !ok {
			return errs.Validation(fmt.Sprintf("unknown setting %q", key))
		}
		if err := validate(setting.kind, value); err != nil {
			return errs.Validation(fmt.Sprintf("invalid value for %s: %v", key, err))
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := s.store.PutSetting(ctx, key, updates[key]); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	s.mu.RLock()
	listeners := append([]func([]string){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(keys)
	}

	if ev, err := events.NewEvent(events.EventTypeSettingsChanged, "", events.SettingsPayload{Keys: keys}); err == nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.Warn("failed to publish settings event", zap.Error(err))
		}
	}
	return nil
}

func validate(k kind, value string) error {
	switch k {
	case kindBool:
		_, err := strconv.ParseBool(value)
		return err
	case kindSeconds, kindCount:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.New("must not be negative")
		}
		if k == kindCount && n < 1 {
			return errors.New("must be at least 1")
		}
		if k == kindSeconds && n > maxSeconds {
			return fmt.Errorf("must be at most %d seconds", maxSeconds)
		}
	}
	return nil
}

func parse(raw map[string]string) (Values, error) {
	get := func(key string) string {
		if v, ok := raw[key]; ok && validate(known[key].kind, v) == nil {
			return v
		}
		return known[key].def
	}
	b := func(key string) bool {
		v, _ := strconv.ParseBool(get(key))
		return v
	}
	n := func(key string) int {
		v, _ := strconv.Atoi(get(key))
		return v
	}

	return Values{
		QueueingEnabled:       b(KeyQueueingEnabled),
		PrequeueEnabled:       b(KeyPrequeueEnabled),
		FingerprintingEnabled: b(KeyFingerprintingEnabled),
		CooldownDuration:      time.Duration(n(KeyCooldownDuration)) * time.Second,
		SongsBeforeCooldown:   n(KeySongsBeforeCooldown),
		VotingEnabled:         b(KeyVotingEnabled),
		DownvoteEnabled:       b(KeyDownvoteEnabled),
		AutoPromote:           b(KeyAutoPromote),
		BanExplicit:           b(KeyBanExplicit),
		MaxSongDuration:       time.Duration(n(KeyMaxSongDuration)) * time.Second,
		RequireUsername:       b(KeyRequireUsername),
		RequireGithubAuth:     b(KeyRequireGithubAuth),
		RequireGoogleAuth:     b(KeyRequireGoogleAuth),
	}, nil
}
