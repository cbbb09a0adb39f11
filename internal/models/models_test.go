package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdminAccountLockWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)
	a := &AdminAccount{LockedUntil: &until}

	assert.True(t, a.IsLocked(now))
	assert.False(t, a.HasLapsedLock(now))
	assert.False(t, a.IsLocked(until))
	assert.True(t, a.HasLapsedLock(until))

	a.LockedUntil = nil
	assert.False(t, a.IsLocked(now))
	assert.False(t, a.HasLapsedLock(now))
}

func TestSessionValidityBoundary(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: exp}
	assert.True(t, s.IsValidAt(exp.Add(-time.Second)))
	assert.False(t, s.IsValidAt(exp))
	assert.False(t, s.IsValidAt(exp.Add(time.Second)))
}

func TestTwoFactorCodeConsumable(t *testing.T) {
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &TwoFactorCode{ExpiresAt: exp}
	assert.True(t, c.IsConsumableAt(exp.Add(-time.Minute)))
	c.Used = true
	assert.False(t, c.IsConsumableAt(exp.Add(-time.Minute)))
}
