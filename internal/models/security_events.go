package models

import (
	"time"
)

type SecurityEventType string

const (
	EventLoginSucceeded         SecurityEventType = "login_succeeded"
	EventLoginFailed            SecurityEventType = "login_failed"
	EventAccountLocked          SecurityEventType = "account_locked"
	EventLoginRejectedLocked    SecurityEventType = "login_rejected_locked"
	EventTwoFactorIssued        SecurityEventType = "two_factor_issued"
	EventTwoFactorVerified      SecurityEventType = "two_factor_verified"
	EventTwoFactorFailed        SecurityEventType = "two_factor_failed"
	EventSessionRevoked         SecurityEventType = "session_revoked"
	EventSessionsRevokedAll     SecurityEventType = "sessions_revoked_all"
	EventPasswordResetRequested SecurityEventType = "password_reset_requested"
	EventPasswordResetCompleted SecurityEventType = "password_reset_completed"
	EventPasswordChanged        SecurityEventType = "password_changed"
)

// SecurityEvent is one audit record of the credential lifecycle. It never
// carries secrets; Email is stored masked.
type SecurityEvent struct {
	ID         string            `json:"id" db:"id"`
	EventType  SecurityEventType `json:"event_type" db:"event_type"`
	AccountID  string            `json:"account_id,omitempty" db:"account_id"`
	Email      string            `json:"email,omitempty" db:"email"`
	IPAddress  string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string            `json:"user_agent,omitempty" db:"user_agent"`
	Success    bool              `json:"success" db:"success"`
	Details    string            `json:"details,omitempty" db:"details"`
	OccurredAt time.Time         `json:"occurred_at" db:"occurred_at"`
}
