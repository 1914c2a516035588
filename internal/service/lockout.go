package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"payments-portal/internal/domain"
)

// LockoutTracker counts failed logins per account and locks the account for
// a cooldown once the threshold is reached. Expired locks are ignored
// lazily; the next successful login clears the stale field.
type LockoutTracker struct {
	store       domain.UnitOfWork
	maxAttempts int
	duration    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewLockoutTracker(store domain.UnitOfWork, maxAttempts int, duration time.Duration, logger *slog.Logger) *LockoutTracker {
	return &LockoutTracker{
		store:       store,
		maxAttempts: maxAttempts,
		duration:    duration,
		logger:      logger,
		now:         time.Now,
	}
}

// IsLocked reports whether acc has a lock expiring in the future.
func (t *LockoutTracker) IsLocked(acc *domain.Account) bool {
	return acc.LockedUntil != nil && t.now().Before(*acc.LockedUntil)
}

// RemainingMinutes rounds the time left on a lock up to whole minutes.
func (t *LockoutTracker) RemainingMinutes(acc *domain.Account) int {
	if !t.IsLocked(acc) {
		return 0
	}
	return int(math.Ceil(acc.LockedUntil.Sub(t.now()).Minutes()))
}

// RemainingAttempts is how many more failures acc can absorb before locking.
func (t *LockoutTracker) RemainingAttempts(acc *domain.Account) int {
	if left := t.maxAttempts - acc.FailedLoginAttempts; left > 0 {
		return left
	}
	return 0
}

// RecordAttempt persists the outcome of a credential check and mirrors the
// stored lockout state onto acc.
func (t *LockoutTracker) RecordAttempt(ctx context.Context, acc *domain.Account, success bool) error {
	now := t.now()

	if success {
		if err := t.store.Accounts().ResetLoginState(ctx, acc.ID, now); err != nil {
			return err
		}
		acc.FailedLoginAttempts = 0
		acc.LockedUntil = nil
		acc.LastLogin = &now
		return nil
	}

	attempts, lockedUntil, err := t.store.Accounts().RecordFailedLogin(ctx, acc.ID, t.maxAttempts, now, now.Add(t.duration))
	if err != nil {
		return err
	}
	acc.FailedLoginAttempts = attempts
	acc.LockedUntil = lockedUntil

	if lockedUntil != nil {
		t.logger.Warn("Account locked", "account_id", acc.ID, "attempts", attempts, "locked_until", *lockedUntil)
	}
	return nil
}
