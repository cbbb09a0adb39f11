package service

import (
	"context"
	"errors"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

type LoginStatus string

const (
	StatusAuthenticated     LoginStatus = "authenticated"
	StatusTwoFactorRequired LoginStatus = "two_factor_required"
)

// LoginResult is returned by a successful password or code check. For
// StatusTwoFactorRequired only Account and Challenge are set.
type LoginResult struct {
	Status       LoginStatus
	Account      *models.AdminAccount
	SessionToken string
	ExpiresAt    time.Time
	Challenge    string
}

// Authenticator checks email and password against the store and the lockout
// policy, then hands off to the two-factor or session manager.
type Authenticator struct {
	*deps
	lockout   *Lockout
	twoFactor *TwoFactorManager
	sessions  *SessionManager
}

// Authenticate rejects unknown emails, inactive accounts and wrong passwords
// alike with ErrInvalidCredentials. A locked account yields ErrAccountLocked
// without evaluating the password.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string, meta models.ClientMeta) (*LoginResult, error) {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := a.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive {
		a.hasher.DummyVerify(password)
		a.record(models.EventLoginFailed, &models.AdminAccount{Email: email, ID: idOf(account)}, meta, false, "unknown or inactive account")
		return nil, ErrInvalidCredentials
	}

	now := a.clock.Now()
	if account.IsLocked(now) {
		a.record(models.EventLoginRejectedLocked, account, meta, false, "")
		return nil, ErrAccountLocked
	}
	if err := a.lockout.ClearLapsed(ctx, account, now); err != nil {
		return nil, err
	}

	ok, err := a.hasher.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		util.Error("Stored password hash is unreadable",
			util.String("account_id", account.ID),
			util.ErrorField(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		locked, err := a.lockout.RegisterFailure(ctx, account, now)
		if err != nil {
			return nil, err
		}
		a.record(models.EventLoginFailed, account, meta, false, "password mismatch")
		if locked {
			a.record(models.EventAccountLocked, account, meta, true, "")
		}
		return nil, ErrInvalidCredentials
	}

	a.upgradeHash(ctx, account, password)

	// With two-factor enabled the counter survives until the code is
	// verified, so re-entering the password cannot refill the code guesses.
	if account.TwoFactorEnabled {
		if _, err := a.twoFactor.IssueCode(ctx, account); err != nil {
			return nil, err
		}
		a.record(models.EventTwoFactorIssued, account, meta, true, "")
		return &LoginResult{
			Status:    StatusTwoFactorRequired,
			Account:   account,
			Challenge: a.tokens.SignChallenge(account.ID, now.Add(a.policy.TwoFactorCodeTTL)),
		}, nil
	}

	if err := a.lockout.Reset(ctx, account, now); err != nil {
		return nil, err
	}
	return a.startSession(ctx, account, meta)
}

// VerifyTwoFactor completes a login left pending by Authenticate. Failed codes
// count toward the same lockout as failed passwords, and only a verified code
// resets that counter.
func (a *Authenticator) VerifyTwoFactor(ctx context.Context, accountID, code string, meta models.ClientMeta) (*LoginResult, error) {
	lookupCtx, cancel := a.withTimeout(ctx)
	account, err := a.store.GetAccountByID(lookupCtx, accountID)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, storeErr("get account", err)
	}
	if !account.IsActive {
		return nil, ErrInvalidOrExpiredCode
	}

	now := a.clock.Now()
	if account.IsLocked(now) {
		a.record(models.EventLoginRejectedLocked, account, meta, false, "two-factor")
		return nil, ErrAccountLocked
	}
	if err := a.lockout.ClearLapsed(ctx, account, now); err != nil {
		return nil, err
	}

	if err := a.twoFactor.VerifyCode(ctx, account.ID, code); err != nil {
		if !errors.Is(err, ErrInvalidOrExpiredCode) {
			return nil, err
		}
		locked, lerr := a.lockout.RegisterFailure(ctx, account, now)
		if lerr != nil {
			return nil, lerr
		}
		a.record(models.EventTwoFactorFailed, account, meta, false, "")
		if locked {
			a.record(models.EventAccountLocked, account, meta, true, "two-factor")
		}
		return nil, err
	}

	if err := a.lockout.Reset(ctx, account, now); err != nil {
		return nil, err
	}
	a.record(models.EventTwoFactorVerified, account, meta, true, "")
	return a.startSession(ctx, account, meta)
}

func (a *Authenticator) startSession(ctx context.Context, account *models.AdminAccount, meta models.ClientMeta) (*LoginResult, error) {
	raw, session, err := a.sessions.CreateSession(ctx, account, meta)
	if err != nil {
		return nil, err
	}
	a.record(models.EventLoginSucceeded, account, meta, true, "")
	return &LoginResult{
		Status:       StatusAuthenticated,
		Account:      account,
		SessionToken: raw,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// lookup returns a nil account for unknown emails.
func (a *Authenticator) lookup(ctx context.Context, email string) (*models.AdminAccount, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	account, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr("get account by email", err)
	}
	return account, nil
}

// upgradeHash rehashes legacy or weaker hashes after a successful check.
// Failure leaves the old hash in place.
func (a *Authenticator) upgradeHash(ctx context.Context, account *models.AdminAccount, password string) {
	if !a.hasher.NeedsRehash(account.PasswordHash) {
		return
	}
	hash, err := a.hasher.HashPassword(password)
	if err != nil {
		util.Warn("Failed to rehash password", util.String("account_id", account.ID), util.ErrorField(err))
		return
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.store.UpdatePasswordHash(ctx, account.ID, hash, a.clock.Now()); err != nil {
		util.Warn("Failed to store upgraded password hash", util.String("account_id", account.ID), util.ErrorField(err))
		return
	}
	account.PasswordHash = hash
	util.Info("Password hash upgraded", util.String("account_id", account.ID))
}

func idOf(account *models.AdminAccount) string {
	if account == nil {
		return ""
	}
	return account.ID
}
