package models

import "time"

// PasswordResetToken is a single-use credential-change capability.
type PasswordResetToken struct {
	AccountID string    `db:"account_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (t *PasswordResetToken) IsValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
