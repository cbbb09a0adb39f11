// Package sqlite is the relational credential store, backed by the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	util.Info("SQLite credential store opened", zap.String("path", path))
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==============================
// Accounts
// ==============================

const accountColumns = `id, email, display_name, password_hash, is_active, two_factor_enabled,
    failed_login_attempts, locked_until, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.AdminAccount, error) {
	var (
		a                    models.AdminAccount
		active, twoFactor    int
		lockedUntil, lastLog sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &active, &twoFactor,
		&a.FailedLoginAttempts, &lockedUntil, &lastLog, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	a.IsActive = active == 1
	a.TwoFactorEnabled = twoFactor == 1
	a.LockedUntil = timePtr(lockedUntil)
	a.LastLogin = timePtr(lastLog)
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.AdminAccount) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO admin_accounts (`+accountColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.DisplayName, a.PasswordHash, boolToInt(a.IsActive), boolToInt(a.TwoFactorEnabled),
		a.FailedLoginAttempts, nullableNanos(a.LockedUntil), nullableNanos(a.LastLogin),
		toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		util.Error("Failed to create admin account", zap.String("account_id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	return nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.AdminAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admin_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get admin account: %w", err)
	}
	return a, err
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM admin_accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get admin account by email: %w", err)
	}
	return a, err
}

func (s *Store) UpdateAccountProfile(ctx context.Context, a *models.AdminAccount, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_accounts
        SET display_name = ?, is_active = ?, two_factor_enabled = ?,
            password_hash = CASE WHEN ? = '' THEN password_hash ELSE ? END,
            updated_at = ?
        WHERE id = ?`,
		a.DisplayName, boolToInt(a.IsActive), boolToInt(a.TwoFactorEnabled),
		passwordHash, passwordHash, toNanos(a.UpdatedAt), a.ID)
	return expectOneRow(res, err, "update admin account")
}

func (s *Store) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	var (
		attempts    int
		lockedUntil sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
        UPDATE admin_accounts
        SET failed_login_attempts = failed_login_attempts + 1,
            locked_until = CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked_until END,
            updated_at = ?
        WHERE id = ?
        RETURNING failed_login_attempts, locked_until`,
		threshold, toNanos(lockUntil), toNanos(now), id).Scan(&attempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, repository.ErrNotFound
		}
		return 0, nil, fmt.Errorf("failed to record failed login: %w", err)
	}
	return attempts, timePtr(lockedUntil), nil
}

func (s *Store) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_accounts
        SET failed_login_attempts = 0, locked_until = NULL, updated_at = ?
        WHERE id = ? AND locked_until IS NOT NULL AND locked_until <= ?`,
		toNanos(now), id, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_accounts
        SET failed_login_attempts = 0, locked_until = NULL, updated_at = ?
        WHERE id = ?`, toNanos(now), id)
	return expectOneRow(res, err, "reset failed logins")
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_accounts SET last_login = ?, updated_at = ? WHERE id = ?`,
		toNanos(at), toNanos(at), id)
	return expectOneRow(res, err, "update last login")
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE admin_accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toNanos(now), id)
	return expectOneRow(res, err, "update password hash")
}

func expectOneRow(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ChangePassword(ctx context.Context, accountID, newHash string, revokeSessions bool, keepTokenHash string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin password change: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE admin_accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, toNanos(now), accountID)
	if err := expectOneRow(res, err, "change password"); err != nil {
		return 0, err
	}

	revoked := 0
	if revokeSessions {
		res, err := tx.ExecContext(ctx, `
            DELETE FROM admin_sessions WHERE account_id = ? AND token_hash <> ?`,
			accountID, keepTokenHash)
		if err != nil {
			return 0, fmt.Errorf("failed to revoke sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		revoked = int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit password change: %w", err)
	}
	return revoked, nil
}
