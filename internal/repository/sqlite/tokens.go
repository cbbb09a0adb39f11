package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"

	"go.uber.org/zap"
)

// ==============================
// Sessions
// ==============================

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO admin_sessions (id, account_id, token_hash, created_at, last_activity, expires_at, ip_address, user_agent)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AccountID, sess.TokenHash, toNanos(sess.CreatedAt), toNanos(sess.LastActivity),
		toNanos(sess.ExpiresAt), sess.IPAddress, sess.UserAgent)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		util.Error("Failed to create session", zap.String("account_id", sess.AccountID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	var (
		sess                               models.Session
		createdAt, lastActivity, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT id, account_id, token_hash, created_at, last_activity, expires_at, ip_address, user_agent
        FROM admin_sessions WHERE token_hash = ?`, tokenHash).
		Scan(&sess.ID, &sess.AccountID, &sess.TokenHash, &createdAt, &lastActivity, &expiresAt,
			&sess.IPAddress, &sess.UserAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.CreatedAt = fromNanos(createdAt)
	sess.LastActivity = fromNanos(lastActivity)
	sess.ExpiresAt = fromNanos(expiresAt)
	return &sess, nil
}

// TouchSession only moves last_activity forward and never touches expires_at.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_sessions SET last_activity = MAX(last_activity, ?)
        WHERE token_hash = ? AND expires_at > ?`,
		toNanos(at), tokenHash, toNanos(at))
	return expectOneRow(res, err, "touch session")
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	return s.deleteCount(ctx, "delete account sessions",
		`DELETE FROM admin_sessions WHERE account_id = ?`, accountID)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	return s.deleteCount(ctx, "delete expired sessions",
		`DELETE FROM admin_sessions WHERE expires_at <= ?`, toNanos(now))
}

func (s *Store) deleteCount(ctx context.Context, op, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return int(n), nil
}

// ==============================
// Two-factor codes
// ==============================

func (s *Store) CreateTwoFactorCode(ctx context.Context, c *models.TwoFactorCode) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO admin_two_factor_codes (id, account_id, code_hash, expires_at, used, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.CodeHash, toNanos(c.ExpiresAt), boolToInt(c.Used), toNanos(c.CreatedAt))
	if err != nil {
		util.Error("Failed to store two-factor code", zap.String("account_id", c.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store two-factor code: %w", err)
	}
	return nil
}

func (s *Store) ConsumeTwoFactorCode(ctx context.Context, accountID, codeHash string, now time.Time) (*models.TwoFactorCode, error) {
	var (
		c                    models.TwoFactorCode
		used                 int
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
        UPDATE admin_two_factor_codes SET used = 1
        WHERE used = 0 AND id = (
            SELECT id FROM admin_two_factor_codes
            WHERE account_id = ? AND code_hash = ? AND used = 0 AND expires_at > ?
            ORDER BY created_at DESC LIMIT 1
        )
        RETURNING id, account_id, code_hash, expires_at, used, created_at`,
		accountID, codeHash, toNanos(now)).
		Scan(&c.ID, &c.AccountID, &c.CodeHash, &expiresAt, &used, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume two-factor code: %w", err)
	}
	c.Used = used == 1
	c.ExpiresAt = fromNanos(expiresAt)
	c.CreatedAt = fromNanos(createdAt)
	return &c, nil
}

func (s *Store) InvalidateTwoFactorCodes(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx, `
        UPDATE admin_two_factor_codes SET used = 1 WHERE account_id = ? AND used = 0`, accountID); err != nil {
		return fmt.Errorf("failed to invalidate two-factor codes: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTwoFactorCodes(ctx context.Context, now time.Time) (int, error) {
	return s.deleteCount(ctx, "delete expired two-factor codes",
		`DELETE FROM admin_two_factor_codes WHERE expires_at <= ? OR used = 1`, toNanos(now))
}

// ==============================
// Password reset tokens
// ==============================

func (s *Store) ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO admin_password_reset_tokens (token_hash, account_id, expires_at, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(account_id) DO UPDATE SET
            token_hash = excluded.token_hash,
            expires_at = excluded.expires_at,
            created_at = excluded.created_at`,
		t.TokenHash, t.AccountID, toNanos(t.ExpiresAt), toNanos(t.CreatedAt))
	if err != nil {
		util.Error("Failed to store reset token", zap.String("account_id", t.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// RedeemResetToken deletes the token row, rewrites the password, clears any
// lockout and drops every session of the account in one transaction.
func (s *Store) RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin reset redemption: %w", err)
	}
	defer tx.Rollback()

	var accountID string
	err = tx.QueryRowContext(ctx, `
        DELETE FROM admin_password_reset_tokens
        WHERE token_hash = ? AND expires_at > ?
        RETURNING account_id`, tokenHash, toNanos(now)).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
        UPDATE admin_accounts
        SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL, updated_at = ?
        WHERE id = ?`, newHash, toNanos(now), accountID)
	if err := expectOneRow(res, err, "store reset password"); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_sessions WHERE account_id = ?`, accountID); err != nil {
		return "", fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE admin_two_factor_codes SET used = 1 WHERE account_id = ? AND used = 0`, accountID); err != nil {
		return "", fmt.Errorf("failed to invalidate two-factor codes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit reset redemption: %w", err)
	}
	return accountID, nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	return s.deleteCount(ctx, "delete expired reset tokens",
		`DELETE FROM admin_password_reset_tokens WHERE expires_at <= ?`, toNanos(now))
}

var _ repository.CredentialStore = (*Store)(nil)
