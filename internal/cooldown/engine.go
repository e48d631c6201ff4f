// Package cooldown enforces per-group submission rate limits.
//
// A group is every identity sharing one external login. Limits count success
// rows in a trailing window and, once the threshold is met, stamp an expiry on
// every member of the group.
package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/errs"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/pkg/models"
)

type Policy struct {
	Enabled   bool
	Window    time.Duration
	Threshold int
}

func PolicyFrom(v settings.Values) Policy {
	threshold := v.SongsBeforeCooldown
	if threshold < 1 {
		threshold = 1
	}
	return Policy{Enabled: v.FingerprintingEnabled, Window: v.CooldownDuration, Threshold: threshold}
}

type Store interface {
	store.IdentityStore
	store.AttemptStore
}

type Engine struct {
	store  Store
	ledger *identity.Ledger
	locker lock.Locker
	log    *zap.Logger
	now    func() time.Time
}

func NewEngine(s Store, ledger *identity.Ledger, locker lock.Locker, log *zap.Logger) *Engine {
	return &Engine{store: s, ledger: ledger, locker: locker, log: log, now: time.Now}
}

// Group is a cooldown group held under its lock. It is only valid inside WithGroup.
type Group struct {
	e      *Engine
	IDs    []string
	policy Policy
}

// WithGroup resolves the identity's cooldown group, locks it, and runs fn.
// Everything fn does (pre-check, forward, audit, stamp) is serialized against
// other submissions from the same group.
func (e *Engine) WithGroup(ctx context.Context, who *models.Identity, policy Policy, fn func(g *Group) error) error {
	unlock, err := e.locker.Lock(ctx, identity.GroupKey(who))
	if err != nil {
		return fmt.Errorf("failed to lock cooldown group: %w", err)
	}
	defer unlock()

	ids, err := e.ledger.CooldownGroup(ctx, who)
	if err != nil {
		return err
	}
	return fn(&Group{e: e, IDs: ids, policy: policy})
}

// PreCheck rejects with RateLimited when the group is cooling down or has used up its window.
func (g *Group) PreCheck(ctx context.Context) error {
	if !g.policy.Enabled {
		return nil
	}
	now := g.e.now()
	if remaining, err := g.e.remaining(ctx, g.IDs, now); err != nil {
		return err
	} else if remaining > 0 {
		return rateLimited(now, remaining)
	}

	stamped, err := g.e.settle(ctx, g.IDs, g.policy, now)
	if err != nil {
		return err
	}
	if stamped {
		return rateLimited(now, g.policy.Window)
	}
	return nil
}

// PostForward re-counts after a success row has been written and closes the
// window when that success used the last slot. It returns whether a cooldown was stamped.
func (g *Group) PostForward(ctx context.Context) (bool, error) {
	if !g.policy.Enabled {
		return false, nil
	}
	return g.e.settle(ctx, g.IDs, g.policy, g.e.now())
}

// CloseWindow stamps the whole group for a full window without counting. Callers
// use it when a forwarded song's success row could not be written. Failures are logged.
func (g *Group) CloseWindow(ctx context.Context) {
	if !g.policy.Enabled || g.policy.Window <= 0 {
		return
	}
	expires := g.e.now().Add(g.policy.Window).UTC()
	if err := g.e.store.SetCooldown(ctx, g.IDs, &expires); err != nil {
		g.e.log.Error("failed to close cooldown window", zap.Strings("group", g.IDs), zap.Error(err))
		return
	}
	g.e.log.Warn("cooldown window closed without a success row", zap.Strings("group", g.IDs), zap.Time("expires", expires))
}

// settle is the single counting routine behind both call sites: count successes
// in the trailing window and stamp the whole group when the threshold is met.
func (e *Engine) settle(ctx context.Context, ids []string, p Policy, now time.Time) (bool, error) {
	n, err := e.countWindow(ctx, ids, p.Window, now)
	if err != nil {
		return false, err
	}
	if n < int64(p.Threshold) || p.Window <= 0 {
		return false, nil
	}

	expires := now.Add(p.Window).UTC()
	if err := e.store.SetCooldown(ctx, ids, &expires); err != nil {
		return false, fmt.Errorf("failed to stamp cooldown: %w", err)
	}
	e.log.Debug("cooldown stamped",
		zap.Strings("group", ids),
		zap.Int64("successes", n),
		zap.Time("expires", expires))
	return true, nil
}

// countWindow counts group successes after now-window, or after the group's
// latest admin reset when that is more recent.
func (e *Engine) countWindow(ctx context.Context, ids []string, window time.Duration, now time.Time) (int64, error) {
	since := now.Add(-window)
	for _, id := range ids {
		member, err := e.store.GetIdentity(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to load group member: %w", err)
		}
		if member.CooldownResetAt != nil && member.CooldownResetAt.After(since) {
			since = *member.CooldownResetAt
		}
	}
	n, err := e.store.CountSuccesses(ctx, ids, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent successes: %w", err)
	}
	return n, nil
}

// remaining is max(cooldownExpiresAt) - now across the group, or zero.
func (e *Engine) remaining(ctx context.Context, ids []string, now time.Time) (time.Duration, error) {
	var longest time.Duration
	for _, id := range ids {
		member, err := e.store.GetIdentity(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to load group member: %w", err)
		}
		if r := member.CooldownRemaining(now); r > longest {
			longest = r
		}
	}
	return longest, nil
}

// Remaining reports the group's outstanding cooldown without taking the lock.
func (e *Engine) Remaining(ctx context.Context, who *models.Identity, policy Policy) (time.Duration, error) {
	if !policy.Enabled {
		return 0, nil
	}
	ids, err := e.ledger.CooldownGroup(ctx, who)
	if err != nil {
		return 0, err
	}
	return e.remaining(ctx, ids, e.now())
}

// SongsLeft reports how many more successes the group may record before the window closes.
func (e *Engine) SongsLeft(ctx context.Context, who *models.Identity, policy Policy) (int, error) {
	if !policy.Enabled {
		return policy.Threshold, nil
	}
	ids, err := e.ledger.CooldownGroup(ctx, who)
	if err != nil {
		return 0, err
	}
	n, err := e.countWindow(ctx, ids, policy.Window, e.now())
	if err != nil {
		return 0, err
	}
	if left := policy.Threshold - int(n); left > 0 {
		return left, nil
	}
	return 0, nil
}

// ResetCooldown clears the expiry on one identity only. Successes before the
// reset no longer count toward its group's window.
func (e *Engine) ResetCooldown(ctx context.Context, id string) error {
	if _, err := e.ledger.Get(ctx, id); err != nil {
		return err
	}
	if err := e.store.ResetCooldowns(ctx, []string{id}, e.now().UTC()); err != nil {
		return fmt.Errorf("failed to reset cooldown: %w", err)
	}
	e.log.Info("cooldown reset", zap.String("identity", id))
	return nil
}

func (e *Engine) ResetAll(ctx context.Context) error {
	if err := e.store.ResetCooldowns(ctx, nil, e.now().UTC()); err != nil {
		return fmt.Errorf("failed to reset cooldowns: %w", err)
	}
	e.log.Info("all cooldowns reset")
	return nil
}

func rateLimited(now time.Time, remaining time.Duration) error {
	when := strings.TrimSpace(humanize.RelTime(now, now.Add(remaining), "", ""))
	return errs.RateLimited(fmt.Sprintf("Please wait before queueing another song! Try again in %s.", when), remaining)
}
