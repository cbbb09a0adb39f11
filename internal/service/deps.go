package service

import (
	"context"

	"admin-auth/internal/audit"
	"admin-auth/internal/config"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/token"
	"admin-auth/internal/util"
)

// PasswordHasher is satisfied by *hashing.Hasher.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
	DummyVerify(password string)
}

// deps is shared by every manager of the credential lifecycle.
type deps struct {
	store    repository.CredentialStore
	hasher   PasswordHasher
	tokens   *token.Hasher
	clock    util.Clock
	recorder audit.Recorder
	policy   config.SecurityConfig
}

// withTimeout bounds a single store or email call.
func (d *deps) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.policy.OperationTimeout)
}

func (d *deps) record(eventType models.SecurityEventType, account *models.AdminAccount, meta models.ClientMeta, success bool, details string) {
	ev := models.SecurityEvent{
		EventType:  eventType,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		Success:    success,
		Details:    details,
		OccurredAt: d.clock.Now(),
	}
	if account != nil {
		ev.AccountID = account.ID
		ev.Email = account.Email
	}
	d.recorder.Record(ev)
}
