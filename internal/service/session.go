package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
	"admin-auth/internal/util"
)

// SessionManager issues and validates opaque session tokens. Expiry is fixed
// at creation and never extended by activity.
type SessionManager struct {
	*deps
}

// CreateSession stores a new session for an authenticated account and returns
// the raw token. The raw token is never persisted.
func (m *SessionManager) CreateSession(ctx context.Context, account *models.AdminAccount, meta models.ClientMeta) (string, *models.Session, error) {
	raw, err := token.NewSessionToken()
	if err != nil {
		return "", nil, err
	}

	now := m.clock.Now()
	session := &models.Session{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		TokenHash:    m.tokens.SessionDigest(raw),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.policy.SessionTTL),
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.store.CreateSession(ctx, session); err != nil {
		return "", nil, storeErr("create session", err)
	}
	if err := m.store.UpdateLastLogin(ctx, account.ID, now); err != nil {
		util.Warn("Failed to update last login",
			util.String("account_id", account.ID),
			util.ErrorField(err))
	} else {
		account.LastLogin = &now
	}

	util.Info("Session created",
		util.String("account_id", account.ID),
		util.String("session_id", session.ID),
		util.Time("expires_at", session.ExpiresAt))
	return raw, session, nil
}

// ValidateSession resolves a raw token to its account. Expired sessions are
// deleted on sight; sessions of deactivated accounts are rejected.
func (m *SessionManager) ValidateSession(ctx context.Context, raw string) (*models.AdminAccount, *models.Session, error) {
	if raw == "" {
		return nil, nil, ErrInvalidSession
	}
	digest := m.tokens.SessionDigest(raw)

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	session, err := m.store.GetSessionByTokenHash(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, storeErr("get session", err)
	}

	now := m.clock.Now()
	if !session.IsValidAt(now) {
		if err := m.store.DeleteSession(ctx, digest); err != nil {
			util.Warn("Failed to delete expired session",
				util.String("session_id", session.ID),
				util.ErrorField(err))
		}
		return nil, nil, ErrInvalidSession
	}

	if err := m.store.TouchSession(ctx, digest, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, storeErr("touch session", err)
	}
	if now.After(session.LastActivity) {
		session.LastActivity = now
	}

	account, err := m.store.GetAccountByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidSession
		}
		return nil, nil, storeErr("get account", err)
	}
	if !account.IsActive {
		if err := m.store.DeleteSession(ctx, digest); err != nil {
			util.Warn("Failed to delete session of inactive account",
				util.String("account_id", account.ID),
				util.ErrorField(err))
		}
		return nil, nil, ErrInvalidSession
	}
	return account, session, nil
}

// DestroySession is idempotent; unknown tokens are not an error.
func (m *SessionManager) DestroySession(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.store.DeleteSession(ctx, m.tokens.SessionDigest(raw)); err != nil {
		return storeErr("delete session", err)
	}
	return nil
}

func (m *SessionManager) DestroyAllSessions(ctx context.Context, accountID string) (int, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	n, err := m.store.DeleteAccountSessions(ctx, accountID)
	if err != nil {
		return 0, storeErr("delete account sessions", err)
	}
	util.Info("Account sessions revoked",
		util.String("account_id", accountID),
		util.Int("revoked", n))
	return n, nil
}
