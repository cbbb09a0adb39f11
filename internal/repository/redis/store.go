// Package redis is the Redis-backed credential store. Every counter and
// consume-once operation runs as a Lua script so it is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-auth/internal/client"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

const (
	accountPrefix          = "account"
	accountEmailPrefix     = "account_email"
	sessionPrefix          = "session"
	accountSessionsPrefix  = "account_sessions"
	sessionExpiryKey       = "session_expiry"
	twoFactorPrefix        = "two_factor"
	accountTwoFactorPrefix = "account_two_factor"
	twoFactorExpiryKey     = "two_factor_expiry"
	resetPrefix            = "reset"
	accountResetPrefix     = "account_reset"
	resetExpiryKey         = "reset_expiry"

	// Records outlive their logical expiry slightly so lazy checks, not
	// Redis eviction, decide validity at the boundary.
	expiryGrace = time.Minute

	maxWatchRetries = 5
)

type Store struct {
	client *client.RedisClient
}

func NewStore(rc *client.RedisClient) *Store {
	return &Store{client: rc}
}

func (s *Store) key(parts ...string) string {
	return s.client.Key(parts...)
}

// prefix returns the namespace for keys built inside Lua scripts.
func (s *Store) prefix(parts ...string) string {
	return s.client.Key(append(parts, "")...)
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	n, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(n).UTC()
}

func parseOptionalMillis(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseMillis(v)
	return &t
}

func optionalMillis(t *time.Time) string {
	if t == nil {
		return ""
	}
	return millis(*t)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func ttlMillis(expiresAt, now time.Time) int64 {
	ttl := expiresAt.Sub(now) + expiryGrace
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl.Milliseconds()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ==============================
// Accounts
// ==============================

func accountFields(a *models.AdminAccount) []interface{} {
	return []interface{}{
		"id", a.ID,
		"email", a.Email,
		"display_name", a.DisplayName,
		"password_hash", a.PasswordHash,
		"is_active", flag(a.IsActive),
		"two_factor_enabled", flag(a.TwoFactorEnabled),
		"failed_login_attempts", a.FailedLoginAttempts,
		"locked_until", optionalMillis(a.LockedUntil),
		"last_login", optionalMillis(a.LastLogin),
		"created_at", millis(a.CreatedAt),
		"updated_at", millis(a.UpdatedAt),
	}
}

func accountFromHash(h map[string]string) *models.AdminAccount {
	attempts, _ := strconv.Atoi(h["failed_login_attempts"])
	return &models.AdminAccount{
		ID:                  h["id"],
		Email:               h["email"],
		DisplayName:         h["display_name"],
		PasswordHash:        h["password_hash"],
		IsActive:            h["is_active"] == "1",
		TwoFactorEnabled:    h["two_factor_enabled"] == "1",
		FailedLoginAttempts: attempts,
		LockedUntil:         parseOptionalMillis(h["locked_until"]),
		LastLogin:           parseOptionalMillis(h["last_login"]),
		CreatedAt:           parseMillis(h["created_at"]),
		UpdatedAt:           parseMillis(h["updated_at"]),
	}
}

func (s *Store) CreateAccount(ctx context.Context, a *models.AdminAccount) error {
	keys := []string{s.key(accountPrefix, a.ID), s.key(accountEmailPrefix, normalizeEmail(a.Email))}
	args := append([]interface{}{a.ID}, accountFields(a)...)

	created, err := createIfAbsentScript.Run(ctx, s.client.Client, keys, args...).Int()
	if err != nil {
		util.Error("Failed to create admin account", zap.String("account_id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	if created == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.AdminAccount, error) {
	h, err := s.client.Client.HGetAll(ctx, s.key(accountPrefix, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get admin account: %w", err)
	}
	if len(h) == 0 {
		return nil, repository.ErrNotFound
	}
	return accountFromHash(h), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.AdminAccount, error) {
	id, err := s.client.Client.Get(ctx, s.key(accountEmailPrefix, normalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve admin email: %w", err)
	}
	return s.GetAccountByID(ctx, id)
}

func (s *Store) updateAccount(ctx context.Context, id, op string, fields ...interface{}) error {
	updated, err := updateIfExistsScript.Run(ctx, s.client.Client, []string{s.key(accountPrefix, id)}, fields...).Int()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if updated == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAccountProfile(ctx context.Context, a *models.AdminAccount, passwordHash string) error {
	fields := []interface{}{
		"display_name", a.DisplayName,
		"is_active", flag(a.IsActive),
		"two_factor_enabled", flag(a.TwoFactorEnabled),
		"updated_at", millis(a.UpdatedAt),
	}
	if passwordHash != "" {
		fields = append(fields, "password_hash", passwordHash)
	}
	return s.updateAccount(ctx, a.ID, "update admin account", fields...)
}

func (s *Store) RecordFailedLogin(ctx context.Context, id string, threshold int, lockUntil, now time.Time) (int, *time.Time, error) {
	res, err := recordFailedLoginScript.Run(ctx, s.client.Client,
		[]string{s.key(accountPrefix, id)}, threshold, millis(lockUntil), millis(now)).Slice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil, repository.ErrNotFound
		}
		return 0, nil, fmt.Errorf("failed to record failed login: %w", err)
	}
	if len(res) != 2 {
		return 0, nil, fmt.Errorf("unexpected result format from failed login script")
	}
	attempts, _ := res[0].(int64)
	locked, _ := res[1].(string)
	return int(attempts), parseOptionalMillis(locked), nil
}

func (s *Store) ClearExpiredLock(ctx context.Context, id string, now time.Time) (bool, error) {
	cleared, err := clearExpiredLockScript.Run(ctx, s.client.Client,
		[]string{s.key(accountPrefix, id)}, millis(now)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lock: %w", err)
	}
	return cleared == 1, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id string, now time.Time) error {
	return s.updateAccount(ctx, id, "reset failed logins",
		"failed_login_attempts", 0, "locked_until", "", "updated_at", millis(now))
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateAccount(ctx, id, "update last login",
		"last_login", millis(at), "updated_at", millis(at))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	return s.updateAccount(ctx, id, "update password hash",
		"password_hash", hash, "updated_at", millis(now))
}

// ChangePassword uses optimistic locking on the account and its session set.
func (s *Store) ChangePassword(ctx context.Context, accountID, newHash string, revokeSessions bool, keepTokenHash string, now time.Time) (int, error) {
	accountKey := s.key(accountPrefix, accountID)
	sessionsKey := s.key(accountSessionsPrefix, accountID)
	revoked := 0

	txf := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, accountKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return repository.ErrNotFound
		}

		var victims []string
		if revokeSessions {
			members, err := tx.SMembers(ctx, sessionsKey).Result()
			if err != nil {
				return err
			}
			for _, m := range members {
				if m != keepTokenHash {
					victims = append(victims, m)
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, accountKey, "password_hash", newHash, "updated_at", millis(now))
			for _, hash := range victims {
				pipe.Del(ctx, s.key(sessionPrefix, hash))
				pipe.SRem(ctx, sessionsKey, hash)
				pipe.ZRem(ctx, s.key(sessionExpiryKey), hash)
			}
			return nil
		})
		revoked = len(victims)
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Client.Watch(ctx, txf, accountKey, sessionsKey)
		if err == nil {
			return revoked, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if errors.Is(err, repository.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to change password: %w", err)
	}
	return 0, fmt.Errorf("failed to change password: too much contention")
}

// ==============================
// Sessions
// ==============================

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	keys := []string{
		s.key(sessionPrefix, sess.TokenHash),
		s.key(accountSessionsPrefix, sess.AccountID),
		s.key(sessionExpiryKey),
	}
	args := []interface{}{
		sess.TokenHash, ttlMillis(sess.ExpiresAt, sess.CreatedAt), sess.ExpiresAt.UnixMilli(),
		"id", sess.ID,
		"account_id", sess.AccountID,
		"token_hash", sess.TokenHash,
		"created_at", millis(sess.CreatedAt),
		"last_activity", millis(sess.LastActivity),
		"expires_at", millis(sess.ExpiresAt),
		"ip_address", sess.IPAddress,
		"user_agent", sess.UserAgent,
	}

	created, err := createSessionScript.Run(ctx, s.client.Client, keys, args...).Int()
	if err != nil {
		util.Error("Failed to create session", zap.String("account_id", sess.AccountID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	h, err := s.client.Client.HGetAll(ctx, s.key(sessionPrefix, tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(h) == 0 {
		return nil, repository.ErrNotFound
	}
	return &models.Session{
		ID:           h["id"],
		AccountID:    h["account_id"],
		TokenHash:    h["token_hash"],
		CreatedAt:    parseMillis(h["created_at"]),
		LastActivity: parseMillis(h["last_activity"]),
		ExpiresAt:    parseMillis(h["expires_at"]),
		IPAddress:    h["ip_address"],
		UserAgent:    h["user_agent"],
	}, nil
}

func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) error {
	touched, err := touchSessionScript.Run(ctx, s.client.Client,
		[]string{s.key(sessionPrefix, tokenHash)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if touched == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	err := deleteSessionScript.Run(ctx, s.client.Client,
		[]string{s.key(sessionPrefix, tokenHash), s.key(sessionExpiryKey)},
		tokenHash, s.prefix(accountSessionsPrefix)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	n, err := revokeSessionsScript.Run(ctx, s.client.Client,
		[]string{s.key(accountSessionsPrefix, accountID), s.key(sessionExpiryKey)},
		s.prefix(sessionPrefix), "").Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	n, err := sweepSessionsScript.Run(ctx, s.client.Client,
		[]string{s.key(sessionExpiryKey)},
		now.UnixMilli(), s.prefix(sessionPrefix), s.prefix(accountSessionsPrefix)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// ==============================
// Two-factor codes
// ==============================

func (s *Store) CreateTwoFactorCode(ctx context.Context, c *models.TwoFactorCode) error {
	keys := []string{
		s.key(twoFactorPrefix, c.AccountID, c.CodeHash),
		s.key(accountTwoFactorPrefix, c.AccountID),
		s.key(twoFactorExpiryKey),
	}
	args := []interface{}{
		c.CodeHash, ttlMillis(c.ExpiresAt, c.CreatedAt), c.ExpiresAt.UnixMilli(), c.AccountID + ":" + c.CodeHash,
		"id", c.ID,
		"account_id", c.AccountID,
		"code_hash", c.CodeHash,
		"expires_at", millis(c.ExpiresAt),
		"used", flag(c.Used),
		"created_at", millis(c.CreatedAt),
	}
	if err := createCodeScript.Run(ctx, s.client.Client, keys, args...).Err(); err != nil {
		util.Error("Failed to store two-factor code", zap.String("account_id", c.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store two-factor code: %w", err)
	}
	return nil
}

func (s *Store) ConsumeTwoFactorCode(ctx context.Context, accountID, codeHash string, now time.Time) (*models.TwoFactorCode, error) {
	res, err := consumeCodeScript.Run(ctx, s.client.Client,
		[]string{s.key(twoFactorPrefix, accountID, codeHash)}, now.UnixMilli()).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume two-factor code: %w", err)
	}

	h := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		h[res[i]] = res[i+1]
	}
	return &models.TwoFactorCode{
		ID:        h["id"],
		AccountID: h["account_id"],
		CodeHash:  h["code_hash"],
		ExpiresAt: parseMillis(h["expires_at"]),
		Used:      h["used"] == "1",
		CreatedAt: parseMillis(h["created_at"]),
	}, nil
}

func (s *Store) InvalidateTwoFactorCodes(ctx context.Context, accountID string) error {
	err := invalidateCodesScript.Run(ctx, s.client.Client,
		[]string{s.key(accountTwoFactorPrefix, accountID)}, s.prefix(twoFactorPrefix, accountID)).Err()
	if err != nil {
		return fmt.Errorf("failed to invalidate two-factor codes: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredTwoFactorCodes(ctx context.Context, now time.Time) (int, error) {
	n, err := sweepCodesScript.Run(ctx, s.client.Client,
		[]string{s.key(twoFactorExpiryKey)},
		now.UnixMilli(), s.prefix(twoFactorPrefix), s.prefix(accountTwoFactorPrefix)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired two-factor codes: %w", err)
	}
	return n, nil
}

// ==============================
// Password reset tokens
// ==============================

func (s *Store) ReplaceResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	keys := []string{
		s.key(resetPrefix, t.TokenHash),
		s.key(accountResetPrefix, t.AccountID),
		s.key(resetExpiryKey),
	}
	args := []interface{}{
		t.TokenHash, ttlMillis(t.ExpiresAt, t.CreatedAt), t.ExpiresAt.UnixMilli(), s.prefix(resetPrefix),
		"account_id", t.AccountID,
		"token_hash", t.TokenHash,
		"expires_at", millis(t.ExpiresAt),
		"created_at", millis(t.CreatedAt),
	}
	if err := replaceResetScript.Run(ctx, s.client.Client, keys, args...).Err(); err != nil {
		util.Error("Failed to store reset token", zap.String("account_id", t.AccountID), zap.Error(err))
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

func (s *Store) RedeemResetToken(ctx context.Context, tokenHash, newHash string, now time.Time) (string, error) {
	keys := []string{s.key(resetPrefix, tokenHash), s.key(resetExpiryKey), s.key(sessionExpiryKey)}
	accountID, err := redeemResetScript.Run(ctx, s.client.Client, keys,
		now.UnixMilli(), newHash, s.prefix(), tokenHash).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to redeem reset token: %w", err)
	}
	return accountID, nil
}

func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int, error) {
	n, err := sweepResetScript.Run(ctx, s.client.Client,
		[]string{s.key(resetExpiryKey)},
		now.UnixMilli(), s.prefix(resetPrefix), s.prefix(accountResetPrefix)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return n, nil
}

var _ repository.CredentialStore = (*Store)(nil)
