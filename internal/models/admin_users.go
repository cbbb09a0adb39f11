package models

import (
	"time"
)

// AdminAccount is a back-office operator identity.
type AdminAccount struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	DisplayName         string     `db:"display_name" json:"display_name"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	TwoFactorEnabled    bool       `db:"two_factor_enabled" json:"two_factor_enabled"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	LastLogin           *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether a lock window is still open at now.
func (a *AdminAccount) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// HasLapsedLock reports a lock window that has closed but not yet been cleared.
func (a *AdminAccount) HasLapsedLock(now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}
