package service

import (
	"context"
	"errors"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

// Lockout owns the failed-attempt counter. Every mutation is a single atomic
// store operation.
type Lockout struct {
	*deps
}

// ClearLapsed resets the counter of an account whose lock window has closed,
// so the next failure starts a fresh count.
func (l *Lockout) ClearLapsed(ctx context.Context, account *models.AdminAccount, now time.Time) error {
	if !account.HasLapsedLock(now) {
		return nil
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	cleared, err := l.store.ClearExpiredLock(ctx, account.ID, now)
	if err != nil {
		return storeErr("clear expired lock", err)
	}
	if cleared {
		util.Info("Expired account lock cleared", util.String("account_id", account.ID))
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return nil
}

// RegisterFailure counts one failed attempt and reports whether it locked
// the account. Locking also invalidates outstanding two-factor codes.
func (l *Lockout) RegisterFailure(ctx context.Context, account *models.AdminAccount, now time.Time) (bool, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	lockUntil := now.Add(l.policy.LockoutDuration)
	attempts, lockedUntil, err := l.store.RecordFailedLogin(ctx, account.ID, l.policy.LockoutThreshold, lockUntil, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storeErr("record failed login", err)
	}

	account.FailedLoginAttempts = attempts
	account.LockedUntil = lockedUntil

	locked := attempts >= l.policy.LockoutThreshold && lockedUntil != nil && now.Before(*lockedUntil)
	if locked {
		util.Warn("Account locked after repeated failures",
			util.String("account_id", account.ID),
			util.Int("attempts", attempts),
			util.Time("locked_until", *lockedUntil))

		// Codes issued before the lock must not outlive it.
		if err := l.store.InvalidateTwoFactorCodes(ctx, account.ID); err != nil {
			util.Warn("Failed to invalidate two-factor codes of locked account",
				util.String("account_id", account.ID),
				util.ErrorField(err))
		}
	}
	return locked, nil
}

// Reset zeroes the counter after a successful password check.
func (l *Lockout) Reset(ctx context.Context, account *models.AdminAccount, now time.Time) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.store.ResetFailedLogins(ctx, account.ID, now); err != nil {
		return storeErr("reset failed logins", err)
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return nil
}
