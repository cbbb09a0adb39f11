package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/mailer"
	"admin-auth/internal/models"
)

const newPassword = "a much better passphrase"

func TestPasswordResetRevokesSessions(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, false)
		ctx := context.Background()

		s1 := h.login(t, testEmail, testPassword)
		s2 := h.login(t, testEmail, testPassword)

		h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
		h.svc.passwords.Wait()

		mail := h.mail.last(t)
		assert.Equal(t, testEmail, mail.To)
		assert.Equal(t, mailer.PasswordResetSubject, mail.Subject)
		assert.Contains(t, mail.Body, "https://admin.example.com/reset-password?token=")
		raw := h.lastResetToken(t)
		assert.Len(t, raw, 64)

		require.NoError(t, h.svc.ResetPassword(ctx, raw, newPassword, testMeta))

		for _, tok := range []string{s1.SessionToken, s2.SessionToken} {
			_, _, err := h.svc.CurrentAccount(ctx, tok)
			assert.ErrorIs(t, err, ErrInvalidSession)
		}

		_, err := h.svc.Login(ctx, testEmail, testPassword, testMeta)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		res := h.login(t, testEmail, newPassword)
		assert.Equal(t, a.ID, res.Account.ID)

		err = h.svc.ResetPassword(ctx, raw, "yet another passphrase", testMeta)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredResetToken)
		assert.True(t, h.events.has(models.EventPasswordResetCompleted))
	})
}

func TestRequestResetForUnknownEmailSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)

	for _, email := range []string{"nobody@example.com", "", "   "} {
		h.svc.RequestPasswordReset(context.Background(), email, testMeta)
	}
	h.svc.passwords.Wait()
	assert.Equal(t, 0, h.mail.count())
}

func TestRequestResetSwallowsDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	h.mail.setErr(assert.AnError)

	h.svc.RequestPasswordReset(context.Background(), testEmail, testMeta)
	h.svc.passwords.Wait()
	assert.Equal(t, 1, h.mail.count())
}

func TestResetTokenExpires(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)

	h.svc.RequestPasswordReset(context.Background(), testEmail, testMeta)
	h.svc.passwords.Wait()
	raw := h.lastResetToken(t)

	h.clock.Advance(time.Hour)
	err := h.svc.ResetPassword(context.Background(), raw, newPassword, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredResetToken)
	h.login(t, testEmail, testPassword)
}

func TestNewResetSupersedesOlder(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()

	h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
	h.svc.passwords.Wait()
	first := h.lastResetToken(t)

	h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
	h.svc.passwords.Wait()
	second := h.lastResetToken(t)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, h.svc.ResetPassword(ctx, first, newPassword, testMeta), ErrInvalidOrExpiredResetToken)
	assert.NoError(t, h.svc.ResetPassword(ctx, second, newPassword, testMeta))
}

func TestResetRejectsWeakPasswordWithoutConsumingToken(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()

	h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
	h.svc.passwords.Wait()
	raw := h.lastResetToken(t)

	assert.ErrorIs(t, h.svc.ResetPassword(ctx, raw, "short", testMeta), ErrPasswordTooWeak)
	assert.ErrorIs(t, h.svc.ResetPassword(ctx, raw, strings.Repeat("x", 300), testMeta), ErrPasswordTooWeak)
	assert.NoError(t, h.svc.ResetPassword(ctx, raw, newPassword, testMeta))
}

func TestResetRejectsUnknownToken(t *testing.T) {
	h := newHarness(t)
	for _, raw := range []string{"", "not-a-token", strings.Repeat("ab", 32)} {
		err := h.svc.ResetPassword(context.Background(), raw, newPassword, testMeta)
		assert.ErrorIs(t, err, ErrInvalidOrExpiredResetToken, raw)
	}
}

func TestResetClearsLockout(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		a := h.createAccount(t, testEmail, false)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, _ = h.svc.Login(ctx, testEmail, "wrong password!", testMeta)
		}
		require.True(t, h.reload(t, a.ID).IsLocked(h.clock.Now()))

		h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
		h.svc.passwords.Wait()
		require.NoError(t, h.svc.ResetPassword(ctx, h.lastResetToken(t), newPassword, testMeta))

		h.login(t, testEmail, newPassword)
	})
}

func TestConcurrentResetRedemptionSucceedsOnce(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()

	h.svc.RequestPasswordReset(ctx, testEmail, testMeta)
	h.svc.passwords.Wait()
	raw := h.lastResetToken(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.svc.ResetPassword(ctx, raw, newPassword, testMeta); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInvalidOrExpiredResetToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	ctx := context.Background()

	current := h.login(t, testEmail, testPassword)
	other := h.login(t, testEmail, testPassword)

	revoked, err := h.svc.ChangePassword(ctx, current.Account, current.SessionToken, testPassword, newPassword, testMeta)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	_, _, err = h.svc.CurrentAccount(ctx, current.SessionToken)
	assert.NoError(t, err)
	_, _, err = h.svc.CurrentAccount(ctx, other.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)

	h.login(t, testEmail, newPassword)
	assert.True(t, h.events.has(models.EventPasswordChanged))
}

func TestChangePasswordWithoutRevocation(t *testing.T) {
	h := newHarness(t)
	h.createAccount(t, testEmail, false)
	h.svc.deps.policy.RevokeOnChange = false
	ctx := context.Background()

	current := h.login(t, testEmail, testPassword)
	other := h.login(t, testEmail, testPassword)

	revoked, err := h.svc.ChangePassword(ctx, current.Account, current.SessionToken, testPassword, newPassword, testMeta)
	require.NoError(t, err)
	assert.Equal(t, 0, revoked)
	_, _, err = h.svc.CurrentAccount(ctx, other.SessionToken)
	assert.NoError(t, err)
}

func TestChangePasswordRejections(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)
	ctx := context.Background()
	current := h.login(t, testEmail, testPassword)

	for i := 0; i < 6; i++ {
		_, err := h.svc.ChangePassword(ctx, current.Account, current.SessionToken, "wrong password!", newPassword, testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	// Wrong current passwords do not feed the login lockout.
	assert.Equal(t, 0, h.reload(t, a.ID).FailedLoginAttempts)

	_, err := h.svc.ChangePassword(ctx, current.Account, current.SessionToken, testPassword, "short", testMeta)
	assert.ErrorIs(t, err, ErrPasswordTooWeak)
	h.login(t, testEmail, testPassword)
}
