package models

import (
	"time"
)

// Session is an authenticated admin session. Only the digest of the opaque
// token is persisted; the raw token exists solely in the client's cookie.
type Session struct {
	ID           string    `db:"id"`
	AccountID    string    `db:"account_id"`
	TokenHash    string    `db:"token_hash"`
	CreatedAt    time.Time `db:"created_at"`
	LastActivity time.Time `db:"last_activity"`
	ExpiresAt    time.Time `db:"expires_at"`
	IPAddress    string    `db:"ip_address"`
	UserAgent    string    `db:"user_agent"`
}

// IsValidAt holds iff now < expires_at.
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ClientMeta is the audit metadata captured when a session is created.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}
