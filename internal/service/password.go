package service

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"admin-auth/internal/hashing"
	"admin-auth/internal/mailer"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
	"admin-auth/internal/util"
)

// PasswordManager runs the reset-by-email flow and authenticated password
// changes.
type PasswordManager struct {
	*deps
	sender mailer.Sender

	// pending tracks reset mails still being issued after RequestReset
	// returned.
	pending sync.WaitGroup
}

// RequestReset never reports whether the email belongs to an account. The
// lookup, token issue and mail delivery run after it returns so the response
// time is the same for known and unknown addresses.
func (m *PasswordManager) RequestReset(ctx context.Context, email string, meta models.ClientMeta) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return
	}

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.issueReset(context.WithoutCancel(ctx), email, meta)
	}()
}

// Wait blocks until every reset started by RequestReset has finished.
func (m *PasswordManager) Wait() {
	m.pending.Wait()
}

func (m *PasswordManager) issueReset(ctx context.Context, email string, meta models.ClientMeta) {
	lookupCtx, cancel := m.withTimeout(ctx)
	account, err := m.store.GetAccountByEmail(lookupCtx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			util.Error("Password reset lookup failed", util.ErrorField(err))
		}
		m.record(models.EventPasswordResetRequested, &models.AdminAccount{Email: email}, meta, false, "unknown account")
		return
	}
	if !account.IsActive {
		m.record(models.EventPasswordResetRequested, account, meta, false, "inactive account")
		return
	}

	raw, err := token.NewResetToken()
	if err != nil {
		util.Error("Failed to generate reset token", util.ErrorField(err))
		return
	}

	now := m.clock.Now()
	reset := &models.PasswordResetToken{
		AccountID: account.ID,
		TokenHash: m.tokens.ResetDigest(raw),
		ExpiresAt: now.Add(m.policy.ResetTokenTTL),
		CreatedAt: now,
	}

	storeCtx, cancel := m.withTimeout(ctx)
	err = m.store.ReplaceResetToken(storeCtx, reset)
	cancel()
	if err != nil {
		util.Error("Failed to store reset token",
			util.String("account_id", account.ID),
			util.ErrorField(err))
		return
	}

	body, err := mailer.RenderPasswordReset(m.resetLink(raw), m.policy.ResetTokenTTL)
	if err == nil {
		sendCtx, cancel := m.withTimeout(ctx)
		err = m.sender.Send(sendCtx, account.Email, mailer.PasswordResetSubject, body)
		cancel()
	}
	if err != nil {
		util.Error("Failed to deliver password reset mail",
			util.String("account_id", account.ID),
			util.ErrorField(err))
		m.record(models.EventPasswordResetRequested, account, meta, false, "delivery failed")
		return
	}

	util.Info("Password reset issued",
		util.String("account_id", account.ID),
		util.Time("expires_at", reset.ExpiresAt))
	m.record(models.EventPasswordResetRequested, account, meta, true, "")
}

func (m *PasswordManager) resetLink(raw string) string {
	q := url.Values{}
	q.Set("token", raw)
	return m.policy.PublicBaseURL + m.policy.ResetPath + "?" + q.Encode()
}

// RedeemReset consumes a reset token and sets the new password. Every session
// of the account is revoked in the same store operation.
func (m *PasswordManager) RedeemReset(ctx context.Context, raw, newPassword string, meta models.ClientMeta) (string, error) {
	if raw == "" {
		return "", ErrInvalidOrExpiredResetToken
	}
	if err := hashing.ValidatePassword(newPassword); err != nil {
		return "", ErrPasswordTooWeak
	}

	hash, err := m.hasher.HashPassword(newPassword)
	if err != nil {
		return "", err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	accountID, err := m.store.RedeemResetToken(ctx, m.tokens.ResetDigest(raw), hash, m.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidOrExpiredResetToken
		}
		return "", storeErr("redeem reset token", err)
	}

	util.Info("Password reset completed", util.String("account_id", accountID))
	m.record(models.EventPasswordResetCompleted, &models.AdminAccount{ID: accountID}, meta, true, "")
	return accountID, nil
}

// ChangePassword requires the current password. It does not touch the
// lockout counter. With revocation enabled every other session of the
// account is deleted while keepToken survives.
func (m *PasswordManager) ChangePassword(ctx context.Context, accountID, current, newPassword, keepToken string, meta models.ClientMeta) (int, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	account, err := m.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrInvalidSession
		}
		return 0, storeErr("get account", err)
	}

	ok, err := m.hasher.VerifyPassword(current, account.PasswordHash)
	if err != nil {
		util.Error("Stored password hash is unreadable",
			util.String("account_id", account.ID),
			util.ErrorField(err))
		return 0, ErrInvalidCredentials
	}
	if !ok {
		m.record(models.EventPasswordChanged, account, meta, false, "current password mismatch")
		return 0, ErrInvalidCredentials
	}
	if err := hashing.ValidatePassword(newPassword); err != nil {
		return 0, ErrPasswordTooWeak
	}

	hash, err := m.hasher.HashPassword(newPassword)
	if err != nil {
		return 0, err
	}

	keep := ""
	if keepToken != "" {
		keep = m.tokens.SessionDigest(keepToken)
	}
	revoked, err := m.store.ChangePassword(ctx, account.ID, hash, m.policy.RevokeOnChange, keep, m.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrInvalidSession
		}
		return 0, storeErr("change password", err)
	}

	util.Info("Password changed",
		util.String("account_id", account.ID),
		util.Int("revoked_sessions", revoked))
	m.record(models.EventPasswordChanged, account, meta, true, "")
	return revoked, nil
}
