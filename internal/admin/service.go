// Package admin exposes the privileged operations a host runs during an event.
package admin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/moderation"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/models"
)

const recentAttempts = 50

type Store interface {
	ListAttempts(ctx context.Context, identityID string, limit int) ([]models.SubmissionAttempt, error)
	CountAttempts(ctx context.Context, identityID string) (int64, error)
	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
	ResetAllData(ctx context.Context) error
}

type Invalidator interface {
	Invalidate()
}

type Device struct {
	models.Identity
	CoolingDown       bool `json:"cooling_down"`
	CooldownRemaining int  `json:"cooldown_remaining"`
}

type DeviceDetail struct {
	Device        Device                     `json:"device"`
	Attempts      []models.SubmissionAttempt `json:"attempts"`
	TotalAttempts int64                      `json:"total_attempts"`
}

type Service struct {
	store     Store
	ledger    *identity.Ledger
	cooldown  *cooldown.Engine
	bans      *moderation.Bans
	settings  *settings.Service
	queue     Invalidator
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(s Store, ledger *identity.Ledger, engine *cooldown.Engine, bans *moderation.Bans, cfg *settings.Service, queue Invalidator, publisher events.Publisher, log *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:     s,
		ledger:    ledger,
		cooldown:  engine,
		bans:      bans,
		settings:  cfg,
		queue:     queue,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) device(i models.Identity) Device {
	remaining := i.CooldownRemaining(s.now())
	return Device{
		Identity:          i,
		CoolingDown:       remaining > 0,
		CooldownRemaining: int(remaining.Round(time.Second).Seconds()),
	}
}

// Devices lists identities, named ones first, newest first within each half.
func (s *Service) Devices(ctx context.Context, status models.IdentityStatus) ([]Device, error) {
	switch status {
	case "", models.IdentityActive, models.IdentityBlocked:
	default:
		return nil, errs.Validation(fmt.Sprintf("unknown status %q", status))
	}
	list, err := s.ledger.List(ctx, models.IdentityFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	sort.SliceStable(list, func(a, b int) bool {
		return named(&list[a]) && !named(&list[b])
	})
	out := make([]Device, len(list))
	for i := range list {
		out[i] = s.device(list[i])
	}
	return out, nil
}

func named(i *models.Identity) bool {
	return i.DisplayName != nil && *i.DisplayName != ""
}

func (s *Service) Device(ctx context.Context, id string) (*DeviceDetail, error) {
	who, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, id, recentAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	total, err := s.store.CountAttempts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	return &DeviceDetail{Device: s.device(*who), Attempts: attempts, TotalAttempts: total}, nil
}

func (s *Service) ResetCooldown(ctx context.Context, id string) error {
	if err := s.cooldown.ResetCooldown(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.EventTypeCooldownReset, id, events.CooldownResetPayload{})
	return nil
}

func (s *Service) ResetAllCooldowns(ctx context.Context) error {
	if err := s.cooldown.ResetAll(ctx); err != nil {
		return err
	}
	s.publish(ctx, events.EventTypeCooldownReset, "", events.CooldownResetPayload{All: true})
	return nil
}

func (s *Service) SetStatus(ctx context.Context, id string, status models.IdentityStatus) error {
	if err := s.ledger.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.publish(ctx, events.EventTypeIdentityStatus, id, events.IdentityStatusPayload{Status: string(status)})
	return nil
}

func (s *Service) Link(ctx context.Context, id, provider, externalID, displayName string) (*models.Identity, error) {
	return s.ledger.Link(ctx, id, provider, externalID, displayName)
}

func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.store.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}

// ResetAllData wipes guest data. Settings are kept.
func (s *Service) ResetAllData(ctx context.Context) error {
	if err := s.store.ResetAllData(ctx); err != nil {
		return fmt.Errorf("failed to reset data: %w", err)
	}
	if s.queue != nil {
		s.queue.Invalidate()
	}
	s.log.Warn("all guest data reset")
	return nil
}

func (s *Service) Bans() *moderation.Bans { return s.bans }

func (s *Service) Settings() *settings.Service { return s.settings }

func (s *Service) publish(ctx context.Context, t events.EventType, identityID string, payload any) {
	ev, err := events.NewEvent(t, identityID, payload)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish admin event", zap.String("type", string(t)), zap.Error(err))
	}
}
