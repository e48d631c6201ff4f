// Package errs classifies admission, moderation and voting failures into stable kinds.
package errs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Persistence sentinels.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a conditional update matched no row in the expected state.
	ErrConflict = errors.New("conflict")
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthRequired Kind = "auth_required"
	KindBlocked      Kind = "blocked"
	KindRateLimited  Kind = "rate_limited"
	KindModeration   Kind = "moderation_rejected"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream_failure"
	KindNotFound     Kind = "not_found"
	KindDisabled     Kind = "feature_disabled"
	KindInternal     Kind = "internal"
)

// Error is a classified failure carrying a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	// Remaining is set for KindRateLimited.
	Remaining time.Duration
	// Providers lists the external logins still missing for KindAuthRequired.
	Providers []string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RemainingSeconds rounds the cooldown up so a client countdown never reaches zero early.
func (e *Error) RemainingSeconds() int64 {
	return int64(math.Ceil(e.Remaining.Seconds()))
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func AuthRequired(msg string, providers []string) *Error {
	return &Error{Kind: KindAuthRequired, Message: msg, Providers: providers}
}

func Blocked(msg string) *Error {
	return &Error{Kind: KindBlocked, Message: msg}
}

func RateLimited(msg string, remaining time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: msg, Remaining: remaining}
}

func Moderation(msg string) *Error {
	return &Error{Kind: KindModeration, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Disabled(msg string) *Error {
	return &Error{Kind: KindDisabled, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of a classified error, KindNotFound for the bare
// persistence sentinel, and KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

// Is reports whether err is a classified error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
