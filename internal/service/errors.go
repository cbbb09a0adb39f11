package service

import (
	"errors"
	"fmt"

	"admin-auth/internal/hashing"
)

// Authentication-domain errors are coarse on purpose and safe to show to the
// caller verbatim.
var (
	ErrInvalidCredentials         = errors.New("invalid email or password")
	ErrAccountLocked              = errors.New("account temporarily locked, try again later")
	ErrTwoFactorRequired          = errors.New("two-factor verification required")
	ErrInvalidOrExpiredCode       = errors.New("invalid or expired verification code")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")
	ErrInvalidSession             = errors.New("invalid or expired session")
	ErrInvalidInput               = errors.New("invalid input")
	ErrPasswordTooWeak            = hashing.ErrPasswordTooWeak
	ErrThrottled                  = errors.New("too many requests, slow down")
)

// Infrastructure errors. Callers must report these as "service unavailable"
// and never as an authentication failure.
var (
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrEmailDeliveryFailed = errors.New("failed to send email")
)

// IsInfrastructure reports errors caused by a dependency rather than by the
// caller's credentials.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrEmailDeliveryFailed)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func emailErr(err error) error {
	return fmt.Errorf("%w: %w", ErrEmailDeliveryFailed, err)
}
