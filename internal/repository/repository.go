// Package repository defines the credential store contract. Every backend
// (sqlite, redis, scylla) implements the counter and consume-once operations
// atomically in the store itself; callers never read-modify-write.
package repository

import (
	"context"
	"errors"
	"time"

	"admin-auth/internal/models"
)

var (
	// ErrNotFound covers absent rows and rows that no longer qualify
	// (used codes, expired tokens) so callers cannot tell them apart.
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.AdminAccount) error
	GetAccountByID(ctx context.Context, id string) (*models.AdminAccount, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.AdminAccount, error)
	// UpdateAccountProfile rewrites display name, active and 2FA flags and,
	// when passwordHash is non-empty, the password hash.
	UpdateAccountProfile(ctx context.Context, account *models.AdminAccount, passwordHash string) error

	// RecordFailedLogin atomically increments failed_login_attempts and, when
	// the new count reaches threshold, sets locked_until = lockUntil.
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (attempts int, lockedUntil *time.Time, err error)
	// ClearExpiredLock resets the counter and lock only when locked_until <= now.
	ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error)
	ResetFailedLogins(ctx context.Context, id string, now time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	TouchSession(ctx context.Context, tokenHash string, at time.Time) error
	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteAccountSessions(ctx context.Context, accountID string) (int, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

type TwoFactorStore interface {
	CreateTwoFactorCode(ctx context.Context, code *models.TwoFactorCode) error
	// ConsumeTwoFactorCode marks the newest unused, unexpired code matching
	// (accountID, codeHash) as used. A second call returns ErrNotFound.
	ConsumeTwoFactorCode(ctx context.Context, accountID, codeHash string, now time.Time) (*models.TwoFactorCode, error)
	InvalidateTwoFactorCodes(ctx context.Context, accountID string) error
	DeleteExpiredTwoFactorCodes(ctx context.Context, now time.Time) (int, error)
}

type ResetTokenStore interface {
	// ReplaceResetToken keeps at most one outstanding token per account.
	ReplaceResetToken(ctx context.Context, token *models.PasswordResetToken) error
	// RedeemResetToken consumes a valid token, stores newHash as the account's
	// password and deletes all of its sessions in one unit. Missing, consumed
	// or expired tokens yield ErrNotFound.
	RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (accountID string, err error)
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error)
}

// CredentialStore is the single shared mutable resource of the service.
type CredentialStore interface {
	AccountStore
	SessionStore
	TwoFactorStore
	ResetTokenStore

	// ChangePassword stores newHash and, when revokeSessions is set, deletes
	// every session of the account except keepTokenHash.
	ChangePassword(ctx context.Context, accountID, newHash string, revokeSessions bool, keepTokenHash string, now time.Time) (revoked int, err error)

	HealthCheck(ctx context.Context) error
	Close() error
}
