package models

import "time"

// TwoFactorCode is an emailed one-time login code. CodeHash is the keyed
// digest of the 6-digit code.
type TwoFactorCode struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	CodeHash  string    `db:"code_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

func (c *TwoFactorCode) IsConsumableAt(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
