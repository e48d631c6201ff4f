package models

import (
	"errors"
	"time"
)

type IdentityStatus string

const (
	IdentityActive  IdentityStatus = "active"
	IdentityBlocked IdentityStatus = "blocked"
)

// Identity is a guest device, keyed by the opaque token handed out on first contact.
type Identity struct {
	ID                string         `json:"id" gorm:"primaryKey;size:64"`
	FirstSeenAt       time.Time      `json:"first_seen_at"`
	LastSubmitAt      *time.Time     `json:"last_submit_at"`
	CooldownExpiresAt *time.Time     `json:"cooldown_expires_at" gorm:"index"`
	CooldownResetAt   *time.Time     `json:"cooldown_reset_at"`
	Status            IdentityStatus `json:"status" gorm:"size:16;not null;default:active;index"`
	DisplayName       *string        `json:"display_name" gorm:"size:128"`
	LinkedProvider    *string        `json:"linked_provider" gorm:"size:16"`
	LinkedAccountID   *string        `json:"linked_account_id" gorm:"size:128;index"`
}

func (i *Identity) Blocked() bool {
	return i.Status == IdentityBlocked
}

// CooldownRemaining returns how long the identity itself is still cooling down at now.
func (i *Identity) CooldownRemaining(now time.Time) time.Duration {
	if i.CooldownExpiresAt == nil || !i.CooldownExpiresAt.After(now) {
		return 0
	}
	return i.CooldownExpiresAt.Sub(now)
}

type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeBanned      Outcome = "banned"
	OutcomeError       Outcome = "error"
	OutcomePrequeued   Outcome = "prequeued"
)

// SubmissionAttempt is an append-only audit row. Success rows drive cooldown accounting.
type SubmissionAttempt struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	IdentityID  string    `json:"identity_id" gorm:"size:64;not null;index:idx_attempt_window,priority:1"`
	TrackID     *string   `json:"track_id" gorm:"size:64;index"`
	TrackName   string    `json:"track_name" gorm:"size:256"`
	ArtistName  string    `json:"artist_name" gorm:"size:256"`
	Outcome     Outcome   `json:"outcome" gorm:"size:16;not null;index:idx_attempt_window,priority:2"`
	ErrorDetail *string   `json:"error_detail" gorm:"type:text"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index:idx_attempt_window,priority:3"`
}

type BannedTrack struct {
	TrackID   string    `json:"track_id" gorm:"primaryKey;size:64"`
	ArtistID  *string   `json:"artist_id" gorm:"size:64"`
	Reason    *string   `json:"reason" gorm:"size:512"`
	CreatedAt time.Time `json:"created_at"`
}

type PrequeueStatus string

const (
	PrequeuePending  PrequeueStatus = "pending"
	PrequeueApproved PrequeueStatus = "approved"
	PrequeueDeclined PrequeueStatus = "declined"
)

var ErrInvalidTransition = errors.New("prequeue entry already processed")

// Approve is the only way to reach PrequeueApproved.
func (s PrequeueStatus) Approve() (PrequeueStatus, error) {
	if s != PrequeuePending {
		return s, ErrInvalidTransition
	}
	return PrequeueApproved, nil
}

// Decline is the only way to reach PrequeueDeclined.
func (s PrequeueStatus) Decline() (PrequeueStatus, error) {
	if s != PrequeuePending {
		return s, ErrInvalidTransition
	}
	return PrequeueDeclined, nil
}

func (s PrequeueStatus) Terminal() bool {
	return s == PrequeueApproved || s == PrequeueDeclined
}

type PrequeueEntry struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	IdentityID string         `json:"identity_id" gorm:"size:64;not null;index"`
	TrackID    string         `json:"track_id" gorm:"size:64;not null;index:idx_prequeue_track_status,priority:1"`
	TrackName  string         `json:"track_name" gorm:"size:256"`
	ArtistName string         `json:"artist_name" gorm:"size:256"`
	AlbumArt   *string        `json:"album_art" gorm:"size:512"`
	Status     PrequeueStatus `json:"status" gorm:"size:16;not null;index:idx_prequeue_track_status,priority:2"`
	ApprovedBy *string        `json:"approved_by" gorm:"size:128"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Vote struct {
	TrackID    string    `json:"track_id" gorm:"primaryKey;size:64"`
	IdentityID string    `json:"identity_id" gorm:"primaryKey;size:64"`
	Direction  int       `json:"direction" gorm:"not null"` // +1 or -1
	CreatedAt  time.Time `json:"created_at"`
}

// Setting is one row of the runtime key-value configuration.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:64"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

type IdentityFilter struct {
	Status IdentityStatus
	Limit  int
}

type Stats struct {
	Devices struct {
		Total       int64 `json:"total"`
		Active      int64 `json:"active"`
		Blocked     int64 `json:"blocked"`
		CoolingDown int64 `json:"cooling_down"`
	} `json:"devices"`
	QueueAttempts struct {
		Total      int64 `json:"total"`
		Successful int64 `json:"successful"`
	} `json:"queue_attempts"`
}
