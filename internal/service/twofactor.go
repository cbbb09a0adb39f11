package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"admin-auth/internal/mailer"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
	"admin-auth/internal/util"
)

// TwoFactorManager issues emailed one-time codes and consumes them.
//
// Issuing a new code leaves earlier unexpired codes valid; a successful
// verification invalidates every outstanding code of the account.
type TwoFactorManager struct {
	*deps
	sender mailer.Sender
}

// IssueCode stores the digest of a fresh code and mails the code to the
// account. When delivery fails the stored code is burned before returning
// ErrEmailDeliveryFailed.
func (m *TwoFactorManager) IssueCode(ctx context.Context, account *models.AdminAccount) (string, error) {
	code, err := token.NewNumericCode(m.policy.TwoFactorCodeDigits)
	if err != nil {
		return "", err
	}

	now := m.clock.Now()
	record := &models.TwoFactorCode{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		CodeHash:  m.tokens.CodeDigest(account.ID, code),
		ExpiresAt: now.Add(m.policy.TwoFactorCodeTTL),
		CreatedAt: now,
	}

	storeCtx, cancel := m.withTimeout(ctx)
	err = m.store.CreateTwoFactorCode(storeCtx, record)
	cancel()
	if err != nil {
		return "", storeErr("create two-factor code", err)
	}

	body, err := mailer.RenderTwoFactorCode(code, m.policy.TwoFactorCodeTTL)
	if err != nil {
		m.burn(ctx, record)
		return "", emailErr(err)
	}

	sendCtx, cancel := m.withTimeout(ctx)
	err = m.sender.Send(sendCtx, account.Email, mailer.TwoFactorSubject, body)
	cancel()
	if err != nil {
		util.Error("Failed to deliver two-factor code",
			util.String("account_id", account.ID),
			util.ErrorField(err))
		m.burn(ctx, record)
		return "", emailErr(err)
	}

	util.Info("Two-factor code issued",
		util.String("account_id", account.ID),
		util.Time("expires_at", record.ExpiresAt))
	return code, nil
}

// burn consumes an undelivered code so it can never be redeemed.
func (m *TwoFactorManager) burn(ctx context.Context, record *models.TwoFactorCode) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.store.ConsumeTwoFactorCode(ctx, record.AccountID, record.CodeHash, m.clock.Now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		util.Error("Failed to burn undelivered two-factor code",
			util.String("account_id", record.AccountID),
			util.ErrorField(err))
	}
}

// VerifyCode consumes a matching unused unexpired code. Malformed, unknown,
// used and expired codes all yield ErrInvalidOrExpiredCode.
func (m *TwoFactorManager) VerifyCode(ctx context.Context, accountID, code string) error {
	if !m.wellFormed(code) {
		return ErrInvalidOrExpiredCode
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := m.store.ConsumeTwoFactorCode(ctx, accountID, m.tokens.CodeDigest(accountID, code), m.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredCode
		}
		return storeErr("consume two-factor code", err)
	}

	if err := m.store.InvalidateTwoFactorCodes(ctx, accountID); err != nil {
		util.Warn("Failed to invalidate outstanding two-factor codes",
			util.String("account_id", accountID),
			util.ErrorField(err))
	}
	return nil
}

func (m *TwoFactorManager) wellFormed(code string) bool {
	if len(code) != m.policy.TwoFactorCodeDigits {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
