package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
)

func TestLoginWithoutTwoFactor(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)

	res := h.login(t, "  OPS@example.com ", testPassword)
	assert.Equal(t, StatusAuthenticated, res.Status)
	assert.Len(t, res.SessionToken, 2*token.SecretBytes)
	assert.Equal(t, testStart.Add(24*time.Hour), res.ExpiresAt)
	assert.Equal(t, 0, h.mail.count())

	account, session, err := h.svc.CurrentAccount(context.Background(), res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, a.ID, account.ID)
	assert.Equal(t, testMeta.IPAddress, session.IPAddress)

	require.NotNil(t, h.reload(t, a.ID).LastLogin)
	assert.True(t, h.events.has(models.EventLoginSucceeded))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)
	inactive := h.createAccount(t, "gone@example.com", false)
	inactive.IsActive = false
	require.NoError(t, h.store.UpdateAccountProfile(context.Background(), inactive, ""))

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", testPassword},
		{"wrong password", testEmail, "wrong password!"},
		{"inactive account", "gone@example.com", testPassword},
		{"empty password", testEmail, ""},
		{"empty email", "", testPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.svc.Login(context.Background(), tc.email, tc.password, testMeta)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
		})
	}

	assert.Equal(t, 1, h.reload(t, a.ID).FailedLoginAttempts)
	assert.Equal(t, 0, h.reload(t, inactive.ID).FailedLoginAttempts)
}

func TestLockoutAfterThresholdFailures(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, false)
		ctx := context.Background()

		for i := 1; i <= 4; i++ {
			_, err := h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
			require.ErrorIs(t, err, ErrInvalidCredentials)
			assert.False(t, h.reload(t, a.ID).IsLocked(h.clock.Now()), "locked after %d failures", i)
		}

		_, err := h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
		locked := h.reload(t, a.ID)
		require.NotNil(t, locked.LockedUntil)
		assert.Equal(t, testStart.Add(15*time.Minute), *locked.LockedUntil)
		assert.True(t, h.events.has(models.EventAccountLocked))

		// The correct password does not help while the lock is open.
		_, err = h.svc.Login(ctx, testEmail, testPassword, testMeta)
		require.ErrorIs(t, err, ErrAccountLocked)
		assert.Equal(t, 5, h.reload(t, a.ID).FailedLoginAttempts)

		h.clock.Advance(15*time.Minute - time.Second)
		_, err = h.svc.Login(ctx, testEmail, testPassword, testMeta)
		require.ErrorIs(t, err, ErrAccountLocked)

		h.clock.Advance(time.Second)
		res := h.login(t, testEmail, testPassword)
		assert.Equal(t, StatusAuthenticated, res.Status)

		after := h.reload(t, a.ID)
		assert.Equal(t, 0, after.FailedLoginAttempts)
		assert.Nil(t, after.LockedUntil)
	})
}

func TestLapsedLockStartsFreshCount(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, false)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, _ = h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
		}
		h.clock.Advance(16 * time.Minute)

		_, err := h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)

		after := h.reload(t, a.ID)
		assert.Equal(t, 1, after.FailedLoginAttempts)
		assert.Nil(t, after.LockedUntil)
	})
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
	}
	h.login(t, testEmail, testPassword)
	assert.Equal(t, 0, h.reload(t, a.ID).FailedLoginAttempts)

	for i := 0; i < 4; i++ {
		_, _ = h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
	}
	assert.False(t, h.reload(t, a.ID).IsLocked(h.clock.Now()))
}

func TestConcurrentFailuresAreAllCounted(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Login(context.Background(), testEmail, "wrong password!", testMeta)
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	after := h.reload(t, a.ID)
	assert.Equal(t, 5, after.FailedLoginAttempts)
	assert.True(t, after.IsLocked(h.clock.Now()))
}

func TestLegacyBcryptHashIsUpgraded(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdatePasswordHash(context.Background(), a.ID, string(legacy), h.clock.Now()))

	h.login(t, testEmail, testPassword)
	assert.True(t, strings.HasPrefix(h.reload(t, a.ID).PasswordHash, "$argon2id$"))

	h.login(t, testEmail, testPassword)
}

func TestTwoFactorLogin(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, true)
		ctx := context.Background()

		res := h.login(t, testEmail, testPassword)
		assert.Equal(t, StatusTwoFactorRequired, res.Status)
		assert.Empty(t, res.SessionToken)
		assert.NotEmpty(t, res.Challenge)

		mail := h.mail.last(t)
		assert.Equal(t, testEmail, mail.To)
		code := h.lastCode(t)
		assert.Len(t, code, 6)

		done, err := h.svc.VerifyTwoFactor(ctx, res.Challenge, code, testMeta)
		require.NoError(t, err)
		assert.Equal(t, StatusAuthenticated, done.Status)
		assert.Equal(t, a.ID, done.Account.ID)

		_, _, err = h.svc.CurrentAccount(ctx, done.SessionToken)
		require.NoError(t, err)

		_, err = h.svc.VerifyTwoFactor(ctx, res.Challenge, code, testMeta)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
		assert.True(t, h.events.has(models.EventTwoFactorVerified))
	})
}

func TestTwoFactorCodeExpires(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, true)

	res := h.login(t, testEmail, testPassword)
	code := h.lastCode(t)

	h.clock.Advance(10*time.Minute - time.Second)
	_, err := h.svc.auth.VerifyTwoFactor(context.Background(), res.Account.ID, "000000", testMeta)
	require.ErrorIs(t, err, ErrInvalidOrExpiredCode)

	h.clock.Advance(time.Second)
	_, err = h.svc.auth.VerifyTwoFactor(context.Background(), res.Account.ID, code, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestEarlierCodeStaysValidUntilOneIsUsed(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, true)
	ctx := context.Background()

	first := h.login(t, testEmail, testPassword)
	firstCode := h.lastCode(t)
	h.login(t, testEmail, testPassword)
	secondCode := h.lastCode(t)
	if firstCode == secondCode {
		t.Skip("codes collided")
	}

	_, err := h.svc.VerifyTwoFactor(ctx, first.Challenge, firstCode, testMeta)
	require.NoError(t, err)

	_, err = h.svc.VerifyTwoFactor(ctx, first.Challenge, secondCode, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestTwoFactorFailuresCountTowardLockout(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, true)
		ctx := context.Background()

		res := h.login(t, testEmail, testPassword)
		code := h.lastCode(t)
		wrong := "000000"

		for i := 0; i < 5; i++ {
			_, err := h.svc.VerifyTwoFactor(ctx, res.Challenge, wrong, testMeta)
			require.ErrorIs(t, err, ErrInvalidOrExpiredCode)
		}
		assert.True(t, h.reload(t, a.ID).IsLocked(h.clock.Now()))

		_, err := h.svc.VerifyTwoFactor(ctx, res.Challenge, code, testMeta)
		assert.ErrorIs(t, err, ErrAccountLocked)
	})
}

func TestReloginDoesNotRefillCodeGuesses(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, true)
		ctx := context.Background()
		wrong := "000000"

		var guesses int
		var lockErr error
		for round := 0; round < 5 && lockErr == nil; round++ {
			res, err := h.svc.Login(ctx, testEmail, testPassword, testMeta)
			if err != nil {
				lockErr = err
				break
			}
			for i := 0; i < 4; i++ {
				_, err := h.svc.VerifyTwoFactor(ctx, res.Challenge, wrong, testMeta)
				if errors.Is(err, ErrAccountLocked) {
					lockErr = err
					break
				}
				require.ErrorIs(t, err, ErrInvalidOrExpiredCode)
				guesses++
			}
		}

		require.ErrorIs(t, lockErr, ErrAccountLocked)
		assert.Equal(t, 5, guesses)
		after := h.reload(t, a.ID)
		assert.Equal(t, 5, after.FailedLoginAttempts)
		assert.True(t, after.IsLocked(h.clock.Now()))

		_, err := h.svc.Login(ctx, testEmail, testPassword, testMeta)
		assert.ErrorIs(t, err, ErrAccountLocked)
	})
}

func TestPasswordAloneKeepsCounterForTwoFactorAccounts(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, true)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
			require.ErrorIs(t, err, ErrInvalidCredentials)
		}
		res := h.login(t, testEmail, testPassword)
		require.Equal(t, StatusTwoFactorRequired, res.Status)
		assert.Equal(t, 3, h.reload(t, a.ID).FailedLoginAttempts)

		_, err := h.svc.VerifyTwoFactor(ctx, res.Challenge, h.lastCode(t), testMeta)
		require.NoError(t, err)
		assert.Equal(t, 0, h.reload(t, a.ID).FailedLoginAttempts)
	})
}

func TestLockInvalidatesOutstandingCodes(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, true)
		ctx := context.Background()

		h.login(t, testEmail, testPassword)
		code := h.lastCode(t)
		for i := 0; i < 5; i++ {
			_, _ = h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
		}
		require.True(t, h.reload(t, a.ID).IsLocked(h.clock.Now()))

		_, err := h.store.ConsumeTwoFactorCode(ctx, a.ID, h.svc.deps.tokens.CodeDigest(a.ID, code), h.clock.Now())
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestTwoFactorRejectsMalformedCode(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, true)
	res := h.login(t, testEmail, testPassword)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := h.svc.VerifyTwoFactor(context.Background(), res.Challenge, code, testMeta)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCode, code)
	}
}

func TestTwoFactorRequiresValidChallenge(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, true)
	res := h.login(t, testEmail, testPassword)
	code := h.lastCode(t)

	_, err := h.svc.VerifyTwoFactor(context.Background(), "forged", code, testMeta)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)

	h.clock.Advance(11 * time.Minute)
	_, err = h.svc.VerifyTwoFactor(context.Background(), res.Challenge, code, testMeta)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
}

func TestTwoFactorDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, true)
	h.mail.setErr(assert.AnError)

	res, err := h.svc.Login(context.Background(), testEmail, testPassword, testMeta)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrEmailDeliveryFailed)
	assert.True(t, IsInfrastructure(err))

	// The undelivered code was burned.
	code := h.lastCode(t)
	_, err = h.svc.auth.VerifyTwoFactor(context.Background(), a.ID, code, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCode)
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()
	res := h.login(t, testEmail, testPassword)

	h.clock.Advance(24*time.Hour - time.Second)
	_, _, err := h.svc.CurrentAccount(ctx, res.SessionToken)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, _, err = h.svc.CurrentAccount(ctx, res.SessionToken)
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = h.store.GetSessionByTokenHash(ctx, h.svc.deps.tokens.SessionDigest(res.SessionToken))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestActivityNeverExtendsSession(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()
	res := h.login(t, testEmail, testPassword)

	for i := 0; i < 23; i++ {
		h.clock.Advance(time.Hour)
		_, session, err := h.svc.CurrentAccount(ctx, res.SessionToken)
		require.NoError(t, err)
		assert.Equal(t, res.ExpiresAt, session.ExpiresAt)
		assert.Equal(t, h.clock.Now(), session.LastActivity)
	}

	h.clock.Advance(time.Hour)
	_, _, err := h.svc.CurrentAccount(ctx, res.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestUnknownSessionTokenIsInvalid(t *testing.T) {
	h := newHarness(t)
	for _, tok := range []string{"", "deadbeef"} {
		_, _, err := h.svc.CurrentAccount(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
}

func TestDeactivatedAccountLosesSessions(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)
	res := h.login(t, testEmail, testPassword)

	a.IsActive = false
	require.NoError(t, h.store.UpdateAccountProfile(context.Background(), a, ""))

	_, _, err := h.svc.CurrentAccount(context.Background(), res.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()
	res := h.login(t, testEmail, testPassword)

	require.NoError(t, h.svc.Logout(ctx, res.SessionToken, testMeta))
	_, _, err := h.svc.CurrentAccount(ctx, res.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)

	require.NoError(t, h.svc.Logout(ctx, res.SessionToken, testMeta))
	require.NoError(t, h.svc.Logout(ctx, "", testMeta))
	assert.True(t, h.events.has(models.EventSessionRevoked))
}

func TestLogoutEverywhere(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	other := h.createAccount(t, "other@example.com", false)
	ctx := context.Background()

	first := h.login(t, testEmail, testPassword)
	second := h.login(t, testEmail, testPassword)
	untouched := h.login(t, other.Email, testPassword)

	n, err := h.svc.LogoutEverywhere(ctx, first.Account, testMeta)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{first.SessionToken, second.SessionToken} {
		_, _, err := h.svc.CurrentAccount(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidSession)
	}
	_, _, err = h.svc.CurrentAccount(ctx, untouched.SessionToken)
	assert.NoError(t, err)
}

func TestStoreFailuresAreInfrastructure(t *testing.T) {
	store := &failingStore{CredentialStore: newSQLiteStore(t)}
	h := newHarnessWithStore(t, store)
	h.createAccount(t, testEmail, false)

	store.failCreate = true
	_, err := h.svc.Login(context.Background(), testEmail, testPassword, testMeta)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsInfrastructure(err))
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	store.failEmailLookup = true
	_, err = h.svc.Login(context.Background(), testEmail, testPassword, testMeta)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errUnavailable)
}

func TestNewAuthServiceRequiresDependencies(t *testing.T) {
	_, err := NewAuthService(testPolicy(), Dependencies{})
	assert.Error(t, err)

	policy := testPolicy()
	policy.TokenSecret = ""
	svc, err := NewAuthService(policy, Dependencies{
		Store:  newSQLiteStore(t),
		Hasher: testHasher(),
		Sender: &recordingSender{},
	})
	require.NoError(t, err)
	assert.NotNil(t, svc.deps.tokens)
}
