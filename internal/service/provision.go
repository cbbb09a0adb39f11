package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"admin-auth/internal/hashing"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

// ProvisionRequest describes an admin account to create or update. An empty
// Password keeps the current one of an existing account.
type ProvisionRequest struct {
	Email            string
	DisplayName      string
	Password         string
	TwoFactorEnabled bool
	Active           bool
}

// ProvisionAccount creates the account or rewrites its profile. It is the
// only account write path outside the login flows.
func ProvisionAccount(ctx context.Context, store repository.AccountStore, hasher PasswordHasher, req ProvisionRequest, now time.Time) (*models.AdminAccount, bool, error) {
	email := util.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, false, ErrInvalidInput
	}

	var hash string
	if req.Password != "" {
		if err := hashing.ValidatePassword(req.Password); err != nil {
			return nil, false, ErrPasswordTooWeak
		}
		h, err := hasher.HashPassword(req.Password)
		if err != nil {
			return nil, false, err
		}
		hash = h
	}

	existing, err := store.GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if hash == "" {
			return nil, false, ErrPasswordTooWeak
		}
		account := &models.AdminAccount{
			ID:               uuid.NewString(),
			Email:            email,
			DisplayName:      req.DisplayName,
			PasswordHash:     hash,
			IsActive:         req.Active,
			TwoFactorEnabled: req.TwoFactorEnabled,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return nil, false, storeErr("create account", err)
		}
		util.Info("Admin account created",
			util.String("account_id", account.ID),
			util.String("email", util.MaskEmail(email)))
		return account, true, nil
	case err != nil:
		return nil, false, storeErr("get account by email", err)
	}

	if req.DisplayName != "" {
		existing.DisplayName = req.DisplayName
	}
	existing.IsActive = req.Active
	existing.TwoFactorEnabled = req.TwoFactorEnabled
	existing.UpdatedAt = now
	if err := store.UpdateAccountProfile(ctx, existing, hash); err != nil {
		return nil, false, storeErr("update account", err)
	}
	if hash != "" {
		existing.PasswordHash = hash
	}

	util.Info("Admin account updated",
		util.String("account_id", existing.ID),
		util.Bool("active", existing.IsActive),
		util.Bool("two_factor", existing.TwoFactorEnabled),
		util.Bool("password_changed", hash != ""))
	return existing, false, nil
}
