// Package store declares the persistence capability consumed by the admission engine.
//
// Implementations: pkg/database.MySQLDB (gorm/MySQL) and Memory (single process).
// Lookups return errs.ErrNotFound for missing rows.
package store

import (
	"context"
	"time"

	"github.com/spotiqueue/server/pkg/models"
)

type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	// CreateIdentity returns errs.ErrAlreadyExists when the id is taken.
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	SetIdentityLink(ctx context.Context, id, provider, accountID string) error
	SetDisplayName(ctx context.Context, id, name string) error
	SetIdentityStatus(ctx context.Context, id string, status models.IdentityStatus) error
	// SetCooldown writes expiresAt (nil clears it) on every listed identity.
	SetCooldown(ctx context.Context, ids []string, expiresAt *time.Time) error
	// ResetCooldowns clears the expiry and records at as the reset time. A nil ids resets everyone.
	ResetCooldowns(ctx context.Context, ids []string, at time.Time) error
	TouchLastSubmit(ctx context.Context, id string, at time.Time) error
	IdentitiesByAccount(ctx context.Context, accountID string) ([]models.Identity, error)
	ListIdentities(ctx context.Context, filter models.IdentityFilter) ([]models.Identity, error)
}

type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt *models.SubmissionAttempt) error
	// CountSuccesses counts success rows for the identities with timestamp strictly after since.
	CountSuccesses(ctx context.Context, identityIDs []string, since time.Time) (int64, error)
	ListAttempts(ctx context.Context, identityID string, limit int) ([]models.SubmissionAttempt, error)
	CountAttempts(ctx context.Context, identityID string) (int64, error)
	// GuestQueued reports which of trackIDs have at least one success row.
	GuestQueued(ctx context.Context, trackIDs []string) (map[string]bool, error)
}

type BanStore interface {
	IsBanned(ctx context.Context, trackID string) (bool, error)
	// BanTrack returns errs.ErrAlreadyExists for a track that is already banned.
	BanTrack(ctx context.Context, ban *models.BannedTrack) error
	UnbanTrack(ctx context.Context, trackID string) error
	ListBanned(ctx context.Context) ([]models.BannedTrack, error)
}

type PrequeueStore interface {
	InsertPrequeue(ctx context.Context, entry *models.PrequeueEntry) error
	GetPrequeue(ctx context.Context, id string) (*models.PrequeueEntry, error)
	PendingForTrack(ctx context.Context, trackID string) (*models.PrequeueEntry, error)
	// TransitionPrequeue moves the entry from -> to; errs.ErrConflict when it is no longer in from.
	TransitionPrequeue(ctx context.Context, id string, from, to models.PrequeueStatus, by string) error
	ListPrequeue(ctx context.Context, status models.PrequeueStatus) ([]models.PrequeueEntry, error)
}

type VoteStore interface {
	GetVote(ctx context.Context, trackID, identityID string) (*models.Vote, error)
	PutVote(ctx context.Context, vote *models.Vote) error
	DeleteVote(ctx context.Context, trackID, identityID string) error
	// NetVotes sums directions per track; a nil trackIDs means every track.
	NetVotes(ctx context.Context, trackIDs []string) (map[string]int, error)
	UserVotes(ctx context.Context, identityID string) (map[string]int, error)
}

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

type AdminStore interface {
	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
	// ResetAllData clears identities, attempts, bans, prequeue entries and votes. Settings survive.
	ResetAllData(ctx context.Context) error
}

type Store interface {
	IdentityStore
	AttemptStore
	BanStore
	PrequeueStore
	VoteStore
	SettingStore
	AdminStore
}
