// Package scylla is the ScyllaDB credential store. Counters and consume-once
// records are guarded by lightweight transactions (IF conditions); the
// winning conditional write is the single point where a race is decided.
package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

const (
	maxCASRetries = 16

	// Rows outlive their logical expiry slightly; reads decide validity.
	expiryGrace = time.Minute

	// serialRead makes a SELECT observe the latest committed LWT state
	// before the following IF condition is evaluated.
	serialRead = gocql.Consistency(gocql.LocalSerial)
)

type Store struct {
	client *ScyllaClient
}

func NewStore(client *ScyllaClient) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func ttlSeconds(expiresAt, now time.Time) int {
	ttl := int((expiresAt.Sub(now) + expiryGrace) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// casApplied runs a conditional statement and reports whether it applied.
func casApplied(q *gocql.Query) (bool, map[string]interface{}, error) {
	previous := make(map[string]interface{})
	applied, err := q.MapScanCAS(previous)
	return applied, previous, err
}

// ==============================
// Accounts
// ==============================

const selectAccount = `SELECT id, email, display_name, password_hash, is_active, two_factor_enabled,
    failed_login_attempts, locked_until, last_login, created_at, updated_at
    FROM admin_accounts WHERE id = ?`

func (s *Store) CreateAccount(ctx context.Context, a *models.AdminAccount) error {
	applied, _, err := casApplied(s.client.Query(ctx,
		`INSERT INTO admin_accounts_by_email (email, account_id) VALUES (?, ?) IF NOT EXISTS`,
		normalizeEmail(a.Email), a.ID))
	if err != nil {
		util.Error("Failed to reserve admin email", zap.String("account_id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to reserve admin email: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}

	applied, _, err = casApplied(s.client.Query(ctx, `
        INSERT INTO admin_accounts (id, email, display_name, password_hash, is_active, two_factor_enabled,
            failed_login_attempts, locked_until, last_login, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		a.ID, a.Email, a.DisplayName, a.PasswordHash, a.IsActive, a.TwoFactorEnabled,
		a.FailedLoginAttempts, nullableTime(a.LockedUntil), nullableTime(a.LastLogin), a.CreatedAt, a.UpdatedAt))
	if err != nil || !applied {
		_ = s.client.Query(ctx, `DELETE FROM admin_accounts_by_email WHERE email = ?`, normalizeEmail(a.Email)).Exec()
		if err != nil {
			util.Error("Failed to create admin account", zap.String("account_id", a.ID), zap.Error(err))
			return fmt.Errorf("failed to create admin account: %w", err)
		}
		return repository.ErrConflict
	}
	return nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.AdminAccount, error) {
	var (
		a                   models.AdminAccount
		lockedUntil, lastAt time.Time
	)
	err := s.client.ScanWithRetry(s.client.Query(ctx, selectAccount, id),
		&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.IsActive, &a.TwoFactorEnabled,
		&a.FailedLoginAttempts, &lockedUntil, &lastAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get admin account: %w", err)
	}
	a.LockedUntil = optionalTime(lockedUntil)
	a.LastLogin = optionalTime(lastAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	var id string
	err := s.client.ScanWithRetry(s.client.Query(ctx,
		`SELECT account_id FROM admin_accounts_by_email WHERE email = ?`, normalizeEmail(email)), &id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve admin email: %w", err)
	}
	return s.GetAccountByID(ctx, id)
}

// updateIfExists runs a conditional UPDATE ... IF EXISTS on the account row.
func (s *Store) updateIfExists(ctx context.Context, op, stmt string, values ...interface{}) error {
	applied, _, err := casApplied(s.client.Query(ctx, stmt+` IF EXISTS`, values...))
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAccountProfile(ctx context.Context, a *models.AdminAccount, passwordHash string) error {
	if passwordHash == "" {
		return s.updateIfExists(ctx, "update admin account", `
            UPDATE admin_accounts SET display_name = ?, is_active = ?, two_factor_enabled = ?, updated_at = ?
            WHERE id = ?`,
			a.DisplayName, a.IsActive, a.TwoFactorEnabled, a.UpdatedAt, a.ID)
	}
	return s.updateIfExists(ctx, "update admin account", `
        UPDATE admin_accounts SET display_name = ?, is_active = ?, two_factor_enabled = ?,
            password_hash = ?, updated_at = ?
        WHERE id = ?`,
		a.DisplayName, a.IsActive, a.TwoFactorEnabled, passwordHash, a.UpdatedAt, a.ID)
}

// RecordFailedLogin is a compare-and-swap loop on failed_login_attempts.
func (s *Store) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	for i := 0; i < maxCASRetries; i++ {
		var (
			current int
			locked  time.Time
		)
		err := s.client.Query(ctx,
			`SELECT failed_login_attempts, locked_until FROM admin_accounts WHERE id = ?`, id).
			Consistency(serialRead).Scan(&current, &locked)
		if err != nil {
			if errors.Is(err, gocql.ErrNotFound) {
				return 0, nil, repository.ErrNotFound
			}
			return 0, nil, fmt.Errorf("failed to read failed login counter: %w", err)
		}

		next := current + 1
		var q *gocql.Query
		if next >= threshold {
			locked = lockUntil
			q = s.client.Query(ctx, `
                UPDATE admin_accounts SET failed_login_attempts = ?, locked_until = ?, updated_at = ?
                WHERE id = ? IF failed_login_attempts = ?`, next, lockUntil, now, id, current)
		} else {
			q = s.client.Query(ctx, `
                UPDATE admin_accounts SET failed_login_attempts = ?, updated_at = ?
                WHERE id = ? IF failed_login_attempts = ?`, next, now, id, current)
		}

		applied, _, err := casApplied(q)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to record failed login: %w", err)
		}
		if applied {
			return next, optionalTime(locked), nil
		}
	}
	util.Warn("Failed login counter contention", zap.String("account_id", id))
	return 0, nil, fmt.Errorf("failed to record failed login: too much contention")
}

func (s *Store) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	var locked time.Time
	err := s.client.Query(ctx, `SELECT locked_until FROM admin_accounts WHERE id = ?`, id).
		Consistency(serialRead).Scan(&locked)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read lock: %w", err)
	}
	if locked.IsZero() || locked.After(now) {
		return false, nil
	}

	applied, _, err := casApplied(s.client.Query(ctx, `
        UPDATE admin_accounts SET failed_login_attempts = 0, locked_until = null, updated_at = ?
        WHERE id = ? IF locked_until = ?`, now, id, locked))
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	return applied, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	return s.updateIfExists(ctx, "reset failed logins", `
        UPDATE admin_accounts SET failed_login_attempts = 0, locked_until = null, updated_at = ?
        WHERE id = ?`, now, id)
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateIfExists(ctx, "update last login",
		`UPDATE admin_accounts SET last_login = ?, updated_at = ? WHERE id = ?`, at, at, id)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.updateIfExists(ctx, "update password hash",
		`UPDATE admin_accounts SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, now, id)
}

func (s *Store) ChangePassword(ctx context.Context, accountID, newHash string, revokeSessions bool, keepTokenHash string, now time.Time) (int, error) {
	if err := s.UpdatePasswordHash(ctx, accountID, newHash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to change password: %w", err)
	}
	if !revokeSessions {
		return 0, nil
	}
	return s.revokeSessions(ctx, accountID, keepTokenHash)
}

// ==============================
// Sessions
// ==============================

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	ttl := ttlSeconds(sess.ExpiresAt, sess.CreatedAt)
	applied, _, err := casApplied(s.client.Query(ctx, `
        INSERT INTO admin_sessions (token_hash, id, account_id, created_at, last_activity, expires_at, ip_address, user_agent)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS USING TTL ?`,
		sess.TokenHash, sess.ID, sess.AccountID, sess.CreatedAt, sess.LastActivity, sess.ExpiresAt,
		sess.IPAddress, sess.UserAgent, ttl))
	if err != nil {
		util.Error("Failed to create session", zap.String("account_id", sess.AccountID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}

	err = s.client.ExecuteWithRetry(s.client.Query(ctx, `
        INSERT INTO admin_sessions_by_account (account_id, token_hash, expires_at) VALUES (?, ?, ?) USING TTL ?`,
		sess.AccountID, sess.TokenHash, sess.ExpiresAt, ttl), 2)
	if err != nil {
		_ = s.client.Query(ctx, `DELETE FROM admin_sessions WHERE token_hash = ?`, sess.TokenHash).Exec()
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var sess models.Session
	err := s.client.ScanWithRetry(s.client.Query(ctx, `
        SELECT token_hash, id, account_id, created_at, last_activity, expires_at, ip_address, user_agent
        FROM admin_sessions WHERE token_hash = ?`, tokenHash),
		&sess.TokenHash, &sess.ID, &sess.AccountID, &sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt,
		&sess.IPAddress, &sess.UserAgent)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivity = sess.LastActivity.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

// TouchSession rewrites last_activity under the row's remaining TTL so the
// cell cannot outlive the session.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	sess, err := s.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	if !sess.IsValidAt(at) {
		return repository.ErrNotFound
	}
	if !at.After(sess.LastActivity) {
		return nil
	}

	applied, _, err := casApplied(s.client.Query(ctx, `
        UPDATE admin_sessions USING TTL ? SET last_activity = ?
        WHERE token_hash = ? IF expires_at > ?`,
		ttlSeconds(sess.ExpiresAt, at), at, tokenHash, at))
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	var accountID string
	err := s.client.Query(ctx, `SELECT account_id FROM admin_sessions WHERE token_hash = ?`, tokenHash).Scan(&accountID)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	batch := s.client.Batch(ctx)
	batch.Query(`DELETE FROM admin_sessions WHERE token_hash = ?`, tokenHash)
	if accountID != "" {
		batch.Query(`DELETE FROM admin_sessions_by_account WHERE account_id = ? AND token_hash = ?`, accountID, tokenHash)
	}
	if err := s.client.Session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	return s.revokeSessions(ctx, accountID, "")
}

func (s *Store) revokeSessions(ctx context.Context, accountID, keepTokenHash string) (int, error) {
	iter := s.client.Query(ctx,
		`SELECT token_hash FROM admin_sessions_by_account WHERE account_id = ?`, accountID).Iter()

	var (
		hash    string
		victims []string
	)
	for iter.Scan(&hash) {
		if hash != keepTokenHash {
			victims = append(victims, hash)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list account sessions: %w", err)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	batch := s.client.Batch(ctx)
	for _, h := range victims {
		batch.Query(`DELETE FROM admin_sessions WHERE token_hash = ?`, h)
		batch.Query(`DELETE FROM admin_sessions_by_account WHERE account_id = ? AND token_hash = ?`, accountID, h)
	}
	if err := s.client.Session.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return len(victims), nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	iter := s.client.Query(ctx, `SELECT token_hash, account_id, expires_at FROM admin_sessions`).Iter()

	type expired struct{ hash, accountID string }
	var (
		hash, accountID string
		expiresAt       time.Time
		victims         []expired
	)
	for iter.Scan(&hash, &accountID, &expiresAt) {
		if !now.Before(expiresAt) {
			victims = append(victims, expired{hash, accountID})
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}

	for _, v := range victims {
		batch := s.client.Batch(ctx)
		batch.Query(`DELETE FROM admin_sessions WHERE token_hash = ?`, v.hash)
		batch.Query(`DELETE FROM admin_sessions_by_account WHERE account_id = ? AND token_hash = ?`, v.accountID, v.hash)
		if err := s.client.Session.ExecuteBatch(batch); err != nil {
			return 0, fmt.Errorf("failed to delete expired session: %w", err)
		}
	}
	return len(victims), nil
}

// ==============================
// Two-factor codes
// ==============================

func (s *Store) CreateTwoFactorCode(ctx context.Context, c *models.TwoFactorCode) error {
	err := s.client.ExecuteWithRetry(s.client.Query(ctx, `
        INSERT INTO admin_two_factor_codes (account_id, code_hash, id, expires_at, used, created_at)
        VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`,
		c.AccountID, c.CodeHash, c.ID, c.ExpiresAt, c.Used, c.CreatedAt, ttlSeconds(c.ExpiresAt, c.CreatedAt)), 2)
	if err != nil {
		util.Error("Failed to store two-factor code", zap.String("account_id", c.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store two-factor code: %w", err)
	}
	return nil
}

func (s *Store) ConsumeTwoFactorCode(ctx context.Context, accountID, codeHash string, now time.Time) (*models.TwoFactorCode, error) {
	var c models.TwoFactorCode
	err := s.client.Query(ctx, `
        SELECT account_id, code_hash, id, expires_at, used, created_at
        FROM admin_two_factor_codes WHERE account_id = ? AND code_hash = ?`, accountID, codeHash).
		Consistency(serialRead).
		Scan(&c.AccountID, &c.CodeHash, &c.ID, &c.ExpiresAt, &c.Used, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read two-factor code: %w", err)
	}
	if !c.IsConsumableAt(now) {
		return nil, repository.ErrNotFound
	}

	applied, _, err := casApplied(s.client.Query(ctx, `
        UPDATE admin_two_factor_codes USING TTL ? SET used = true
        WHERE account_id = ? AND code_hash = ? IF used = false AND expires_at > ?`,
		ttlSeconds(c.ExpiresAt, now), accountID, codeHash, now))
	if err != nil {
		return nil, fmt.Errorf("failed to consume two-factor code: %w", err)
	}
	if !applied {
		return nil, repository.ErrNotFound
	}

	c.Used = true
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) InvalidateTwoFactorCodes(ctx context.Context, accountID string) error {
	err := s.client.ExecuteWithRetry(s.client.Query(ctx,
		`DELETE FROM admin_two_factor_codes WHERE account_id = ?`, accountID), 2)
	if err != nil {
		return fmt.Errorf("failed to invalidate two-factor codes: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTwoFactorCodes(ctx context.Context, now time.Time) (int, error) {
	iter := s.client.Query(ctx,
		`SELECT account_id, code_hash, expires_at, used FROM admin_two_factor_codes`).Iter()

	var (
		accountID, codeHash string
		expiresAt           time.Time
		used                bool
		victims             [][2]string
	)
	for iter.Scan(&accountID, &codeHash, &expiresAt, &used) {
		if used || !now.Before(expiresAt) {
			victims = append(victims, [2]string{accountID, codeHash})
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan two-factor codes: %w", err)
	}

	for _, v := range victims {
		err := s.client.Query(ctx,
			`DELETE FROM admin_two_factor_codes WHERE account_id = ? AND code_hash = ?`, v[0], v[1]).Exec()
		if err != nil {
			return 0, fmt.Errorf("failed to delete expired two-factor code: %w", err)
		}
	}
	return len(victims), nil
}

// ==============================
// Password reset tokens
// ==============================

func (s *Store) ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	var previous string
	err := s.client.Query(ctx,
		`SELECT token_hash FROM admin_reset_by_account WHERE account_id = ?`, t.AccountID).Scan(&previous)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("failed to read previous reset token: %w", err)
	}

	ttl := ttlSeconds(t.ExpiresAt, t.CreatedAt)
	batch := s.client.Batch(ctx)
	if previous != "" && previous != t.TokenHash {
		batch.Query(`DELETE FROM admin_password_reset_tokens WHERE token_hash = ?`, previous)
	}
	batch.Query(`INSERT INTO admin_password_reset_tokens (token_hash, account_id, expires_at, created_at)
        VALUES (?, ?, ?, ?) USING TTL ?`, t.TokenHash, t.AccountID, t.ExpiresAt, t.CreatedAt, ttl)
	batch.Query(`INSERT INTO admin_reset_by_account (account_id, token_hash) VALUES (?, ?) USING TTL ?`,
		t.AccountID, t.TokenHash, ttl)

	if err := s.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to store reset token", zap.String("account_id", t.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// RedeemResetToken consumes the token with a conditional delete; only the
// caller whose delete applies goes on to rewrite the password and revoke
// sessions.
func (s *Store) RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	var (
		accountID string
		expiresAt time.Time
	)
	err := s.client.Query(ctx,
		`SELECT account_id, expires_at FROM admin_password_reset_tokens WHERE token_hash = ?`, tokenHash).
		Consistency(serialRead).Scan(&accountID, &expiresAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to read reset token: %w", err)
	}

	if !now.Before(expiresAt) {
		_ = s.client.Query(ctx, `DELETE FROM admin_password_reset_tokens WHERE token_hash = ? IF EXISTS`, tokenHash).Exec()
		return "", repository.ErrNotFound
	}

	applied, _, err := casApplied(s.client.Query(ctx,
		`DELETE FROM admin_password_reset_tokens WHERE token_hash = ? IF expires_at > ?`, tokenHash, now))
	if err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}
	if !applied {
		return "", repository.ErrNotFound
	}

	if err := s.updateIfExists(ctx, "store reset password", `
        UPDATE admin_accounts SET password_hash = ?, failed_login_attempts = 0, locked_until = null, updated_at = ?
        WHERE id = ?`, newHash, now, accountID); err != nil {
		util.Error("Reset token consumed but password update failed",
			zap.String("account_id", accountID), zap.Error(err))
		return "", err
	}

	batch := s.client.Batch(ctx)
	batch.Query(`DELETE FROM admin_reset_by_account WHERE account_id = ?`, accountID)
	batch.Query(`DELETE FROM admin_two_factor_codes WHERE account_id = ?`, accountID)
	if err := s.client.Session.ExecuteBatch(batch); err != nil {
		return "", fmt.Errorf("failed to clear reset state: %w", err)
	}
	if _, err := s.revokeSessions(ctx, accountID, ""); err != nil {
		return "", err
	}
	return accountID, nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	iter := s.client.Query(ctx, `SELECT token_hash, expires_at FROM admin_password_reset_tokens`).Iter()

	var (
		hash      string
		expiresAt time.Time
		victims   []string
	)
	for iter.Scan(&hash, &expiresAt) {
		if !now.Before(expiresAt) {
			victims = append(victims, hash)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to scan reset tokens: %w", err)
	}

	for _, h := range victims {
		if err := s.client.Query(ctx, `DELETE FROM admin_password_reset_tokens WHERE token_hash = ?`, h).Exec(); err != nil {
			return 0, fmt.Errorf("failed to delete expired reset token: %w", err)
		}
	}
	return len(victims), nil
}

var _ repository.CredentialStore = (*Store)(nil)
