// Package storetest holds the behavioural suite every CredentialStore
// backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) repository.CredentialStore

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("FailedLoginCounter", func(t *testing.T) { testFailedLoginCounter(t, newStore(t)) })
	t.Run("ConcurrentFailedLogins", func(t *testing.T) { testConcurrentFailedLogins(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("SessionSweep", func(t *testing.T) { testSessionSweep(t, newStore(t)) })
	t.Run("TwoFactorCodes", func(t *testing.T) { testTwoFactorCodes(t, newStore(t)) })
	t.Run("ConcurrentTwoFactorConsume", func(t *testing.T) { testConcurrentTwoFactorConsume(t, newStore(t)) })
	t.Run("ResetTokens", func(t *testing.T) { testResetTokens(t, newStore(t)) })
	t.Run("ConcurrentResetRedeem", func(t *testing.T) { testConcurrentResetRedeem(t, newStore(t)) })
	t.Run("ChangePassword", func(t *testing.T) { testChangePassword(t, newStore(t)) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// NewAccount builds an active account with a placeholder hash.
func NewAccount(email string, now time.Time) *models.AdminAccount {
	return &models.AdminAccount{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  "Test Admin",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func mustCreate(t *testing.T, store repository.CredentialStore, email string, now time.Time) *models.AdminAccount {
	t.Helper()
	a := NewAccount(email, now)
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

func newSession(accountID, hash string, now time.Time, ttl time.Duration) *models.Session {
	return &models.Session{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		TokenHash:    hash,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(ttl),
		IPAddress:    "203.0.113.7",
		UserAgent:    "storetest",
	}
}

func testAccounts(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "ops@example.com", now)

	byID, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Email, byID.Email)
	assert.Equal(t, a.PasswordHash, byID.PasswordHash)
	assert.True(t, byID.IsActive)
	assert.Nil(t, byID.LockedUntil)
	assert.True(t, a.CreatedAt.Equal(byID.CreatedAt))

	byEmail, err := store.GetAccountByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byEmail.ID)

	_, err = store.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetAccountByID(ctx, uuid.New().String())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	dup := NewAccount("ops@example.com", now)
	assert.ErrorIs(t, store.CreateAccount(ctx, dup), repository.ErrConflict)

	byID.DisplayName = "Renamed"
	byID.TwoFactorEnabled = true
	byID.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.UpdateAccountProfile(ctx, byID, ""))
	updated, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.DisplayName)
	assert.True(t, updated.TwoFactorEnabled)
	assert.Equal(t, a.PasswordHash, updated.PasswordHash)

	require.NoError(t, store.UpdatePasswordHash(ctx, a.ID, "new-hash", now))
	updated, err = store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)

	login := now.Add(2 * time.Minute)
	require.NoError(t, store.UpdateLastLogin(ctx, a.ID, login))
	updated, err = store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastLogin)
	assert.True(t, login.Equal(*updated.LastLogin))

	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, uuid.New().String(), "x", now), repository.ErrNotFound)
}

func testFailedLoginCounter(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "lock@example.com", now)
	lockUntil := now.Add(15 * time.Minute)

	for i := 1; i <= 4; i++ {
		attempts, locked, err := store.RecordFailedLogin(ctx, a.ID, 5, lockUntil, now)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
		assert.Nil(t, locked, "attempt %d must not lock", i)
	}

	attempts, locked, err := store.RecordFailedLogin(ctx, a.ID, 5, lockUntil, now)
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
	require.NotNil(t, locked)
	assert.True(t, lockUntil.Equal(*locked))

	got, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsLocked(now))

	cleared, err := store.ClearExpiredLock(ctx, a.ID, lockUntil.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, cleared, "lock still open")

	cleared, err = store.ClearExpiredLock(ctx, a.ID, lockUntil)
	require.NoError(t, err)
	assert.True(t, cleared)

	got, err = store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)

	_, _, err = store.RecordFailedLogin(ctx, a.ID, 5, lockUntil, now)
	require.NoError(t, err)
	require.NoError(t, store.ResetFailedLogins(ctx, a.ID, now))
	got, err = store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedLoginAttempts)

	_, _, err = store.RecordFailedLogin(ctx, uuid.New().String(), 5, lockUntil, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testConcurrentFailedLogins(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "race@example.com", now)

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.RecordFailedLogin(ctx, a.ID, 5, now.Add(15*time.Minute), now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedLoginAttempts, "no increment may be lost")
	assert.True(t, got.IsLocked(now))
}

func testSessions(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "sess@example.com", now)

	s := newSession(a.ID, "hash-1", now, 24*time.Hour)
	require.NoError(t, store.CreateSession(ctx, s))

	got, err := store.GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.AccountID)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "203.0.113.7", got.IPAddress)

	later := now.Add(3 * time.Hour)
	require.NoError(t, store.TouchSession(ctx, "hash-1", later))
	got, err = store.GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastActivity))
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt), "touch must not extend expiry")

	_, err = store.GetSessionByTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.DeleteSession(ctx, "hash-1"))
	require.NoError(t, store.DeleteSession(ctx, "hash-1"))
	_, err = store.GetSessionByTokenHash(ctx, "hash-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "hash-2", now, time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "hash-3", now, time.Hour)))
	n, err := store.DeleteAccountSessions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = store.GetSessionByTokenHash(ctx, "hash-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testSessionSweep(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "sweep@example.com", now)

	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "short", now, time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "long", now, 24*time.Hour)))

	n, err := store.DeleteExpiredSessions(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetSessionByTokenHash(ctx, "short")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetSessionByTokenHash(ctx, "long")
	assert.NoError(t, err)
}

func newCode(accountID, hash string, now time.Time, ttl time.Duration) *models.TwoFactorCode {
	return &models.TwoFactorCode{
		ID:        uuid.New().String(),
		AccountID: accountID,
		CodeHash:  hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func testTwoFactorCodes(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "otp@example.com", now)

	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "code-1", now, 10*time.Minute)))

	_, err := store.ConsumeTwoFactorCode(ctx, a.ID, "wrong", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = store.ConsumeTwoFactorCode(ctx, uuid.New().String(), "code-1", now)
	assert.ErrorIs(t, err, repository.ErrNotFound, "codes are bound to their account")

	c, err := store.ConsumeTwoFactorCode(ctx, a.ID, "code-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.AccountID)
	assert.True(t, c.Used)

	_, err = store.ConsumeTwoFactorCode(ctx, a.ID, "code-1", now.Add(time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound, "second use must fail")

	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "code-2", now, 10*time.Minute)))
	_, err = store.ConsumeTwoFactorCode(ctx, a.ID, "code-2", now.Add(10*time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound, "code is dead at expires_at")

	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "code-3", now, 10*time.Minute)))
	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "code-4", now, 10*time.Minute)))
	require.NoError(t, store.InvalidateTwoFactorCodes(ctx, a.ID))
	_, err = store.ConsumeTwoFactorCode(ctx, a.ID, "code-3", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.ConsumeTwoFactorCode(ctx, a.ID, "code-4", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "code-5", now, 10*time.Minute)))
	n, err := store.DeleteExpiredTwoFactorCodes(ctx, now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	_, err = store.ConsumeTwoFactorCode(ctx, a.ID, "code-5", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testConcurrentTwoFactorConsume(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "otp-race@example.com", now)
	require.NoError(t, store.CreateTwoFactorCode(ctx, newCode(a.ID, "shared", now, 10*time.Minute)))

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeTwoFactorCode(ctx, a.ID, "shared", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func newReset(accountID, hash string, now time.Time, ttl time.Duration) *models.PasswordResetToken {
	return &models.PasswordResetToken{
		AccountID: accountID,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func testResetTokens(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "reset@example.com", now)

	require.NoError(t, store.ReplaceResetToken(ctx, newReset(a.ID, "reset-1", now, time.Hour)))
	require.NoError(t, store.ReplaceResetToken(ctx, newReset(a.ID, "reset-2", now, time.Hour)))

	_, err := store.RedeemResetToken(ctx, "reset-1", "replaced", now)
	assert.ErrorIs(t, err, repository.ErrNotFound, "a newer token supersedes the old one")

	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "s-1", now, 24*time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "s-2", now, 24*time.Hour)))
	_, _, err = store.RecordFailedLogin(ctx, a.ID, 1, now.Add(15*time.Minute), now)
	require.NoError(t, err)

	accountID, err := store.RedeemResetToken(ctx, "reset-2", "after-reset", now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, a.ID, accountID)

	got, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "after-reset", got.PasswordHash)
	assert.Zero(t, got.FailedLoginAttempts)
	assert.Nil(t, got.LockedUntil)

	_, err = store.GetSessionByTokenHash(ctx, "s-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetSessionByTokenHash(ctx, "s-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = store.RedeemResetToken(ctx, "reset-2", "again", now.Add(31*time.Minute))
	assert.ErrorIs(t, err, repository.ErrNotFound, "tokens are single use")

	require.NoError(t, store.ReplaceResetToken(ctx, newReset(a.ID, "reset-3", now, time.Hour)))
	_, err = store.RedeemResetToken(ctx, "reset-3", "late", now.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrNotFound, "token is dead at expires_at")

	require.NoError(t, store.ReplaceResetToken(ctx, newReset(a.ID, "reset-4", now, time.Hour)))
	n, err := store.DeleteExpiredResetTokens(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func testConcurrentResetRedeem(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "reset-race@example.com", now)
	require.NoError(t, store.ReplaceResetToken(ctx, newReset(a.ID, "race", now, time.Hour)))

	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RedeemResetToken(ctx, "race", "winner", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testChangePassword(t *testing.T, store repository.CredentialStore) {
	ctx := context.Background()
	now := baseTime()
	a := mustCreate(t, store, "change@example.com", now)

	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "current", now, 24*time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "other-1", now, 24*time.Hour)))
	require.NoError(t, store.CreateSession(ctx, newSession(a.ID, "other-2", now, 24*time.Hour)))

	revoked, err := store.ChangePassword(ctx, a.ID, "changed", true, "current", now)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	_, err = store.GetSessionByTokenHash(ctx, "current")
	assert.NoError(t, err)
	_, err = store.GetSessionByTokenHash(ctx, "other-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.PasswordHash)

	revoked, err = store.ChangePassword(ctx, a.ID, "changed-again", false, "", now)
	require.NoError(t, err)
	assert.Zero(t, revoked)
	_, err = store.GetSessionByTokenHash(ctx, "current")
	assert.NoError(t, err)

	_, err = store.ChangePassword(ctx, uuid.New().String(), "x", true, "", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
