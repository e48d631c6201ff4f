// Package identity tracks guest devices and the external logins that tie them together.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

const (
	ProviderGithub = "github"
	ProviderGoogle = "google"

	maxTokenLen = 64
	maxNameLen  = 32
)

type Ledger struct {
	store  store.IdentityStore
	log    *zap.Logger
	policy *bluemonday.Policy
	now    func() time.Time
}

func NewLedger(s store.IdentityStore, log *zap.Logger) *Ledger {
	return &Ledger{
		store:  s,
		log:    log,
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// NewToken returns a fresh opaque device token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func checkToken(token string) error {
	if token == "" {
		return errs.Validation("Could not fingerprint your device.")
	}
	if len(token) > maxTokenLen {
		return errs.Validation("Invalid fingerprint")
	}
	return nil
}

// Resolve returns the identity for token, creating it on first sight.
func (l *Ledger) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}

	identity, err := l.store.GetIdentity(ctx, token)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	identity = &models.Identity{
		ID:          token,
		FirstSeenAt: l.now().UTC(),
		Status:      models.IdentityActive,
	}
	if err := l.store.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// Lost a first-contact race; the winner's row is authoritative.
			return l.store.GetIdentity(ctx, token)
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	l.log.Info("new guest identity", zap.String("identity", token))
	return identity, nil
}

// Lookup returns an existing identity without creating one.
func (l *Ledger) Lookup(ctx context.Context, token string) (*models.Identity, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}
	identity, err := l.store.GetIdentity(ctx, token)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Invalid fingerprint")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return identity, nil
}

// Get is the admin lookup by id.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := l.store.GetIdentity(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return identity, nil
}

// SanitizeName strips markup and bounds the length of a guest-chosen name.
func (l *Ledger) SanitizeName(name string) string {
	name = strings.TrimSpace(l.policy.Sanitize(name))
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}

// SetDisplayNameIfUnset records name unless the identity already has one.
func (l *Ledger) SetDisplayNameIfUnset(ctx context.Context, identity *models.Identity, name string) error {
	if identity.DisplayName != nil && *identity.DisplayName != "" {
		return nil
	}
	name = l.SanitizeName(name)
	if name == "" {
		return nil
	}
	if err := l.store.SetDisplayName(ctx, identity.ID, name); err != nil {
		return fmt.Errorf("failed to set display name: %w", err)
	}
	identity.DisplayName = &name
	return nil
}

// Link attaches an external login. Relinking to the same account is a no-op;
// relinking to another account is a conflict.
func (l *Ledger) Link(ctx context.Context, id, provider, externalID, displayName string) (*models.Identity, error) {
	if provider != ProviderGithub && provider != ProviderGoogle {
		return nil, errs.Validation(fmt.Sprintf("unknown provider %q", provider))
	}
	if externalID == "" {
		return nil, errs.Validation("external account id required")
	}

	identity, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	accountID := provider + ":" + externalID
	switch {
	case identity.LinkedAccountID == nil:
		if err := l.store.SetIdentityLink(ctx, id, provider, accountID); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		identity.LinkedProvider = &provider
		identity.LinkedAccountID = &accountID
		l.log.Info("identity linked", zap.String("identity", id), zap.String("provider", provider))
	case *identity.LinkedAccountID != accountID:
		return nil, errs.Conflict("This device is already linked to another account.")
	}

	if err := l.SetDisplayNameIfUnset(ctx, identity, displayName); err != nil {
		return nil, err
	}
	return identity, nil
}

// CooldownGroup returns every identity id sharing the identity's linked account, or just its own id.
func (l *Ledger) CooldownGroup(ctx context.Context, identity *models.Identity) ([]string, error) {
	if identity.LinkedAccountID == nil || *identity.LinkedAccountID == "" {
		return []string{identity.ID}, nil
	}
	siblings, err := l.store.IdentitiesByAccount(ctx, *identity.LinkedAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cooldown group: %w", err)
	}
	group := []string{identity.ID}
	for _, s := range siblings {
		if s.ID != identity.ID {
			group = append(group, s.ID)
		}
	}
	return group, nil
}

// GroupKey names the lock that serializes admissions for the identity's cooldown group.
func GroupKey(identity *models.Identity) string {
	if identity.LinkedAccountID != nil && *identity.LinkedAccountID != "" {
		return "group:" + *identity.LinkedAccountID
	}
	return "group:" + identity.ID
}

func (l *Ledger) SetStatus(ctx context.Context, id string, status models.IdentityStatus) error {
	if _, err := l.Get(ctx, id); err != nil {
		return err
	}
	if err := l.store.SetIdentityStatus(ctx, id, status); err != nil {
		return fmt.Errorf("failed to set identity status: %w", err)
	}
	l.log.Info("identity status changed", zap.String("identity", id), zap.String("status", string(status)))
	return nil
}

func (l *Ledger) List(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, error) {
	return l.store.ListIdentities(ctx, filter)
}
