package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCreatesThenUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hasher := testHasher()

	created, isNew, err := ProvisionAccount(ctx, h.store, hasher, ProvisionRequest{
		Email:       " Root@Example.com ",
		DisplayName: "Root",
		Password:    testPassword,
		Active:      true,
	}, h.clock.Now())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "root@example.com", created.Email)

	h.login(t, "root@example.com", testPassword)

	updated, isNew, err := ProvisionAccount(ctx, h.store, hasher, ProvisionRequest{
		Email:            "root@example.com",
		TwoFactorEnabled: true,
		Active:           true,
	}, h.clock.Now())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Root", updated.DisplayName)

	res := h.login(t, "root@example.com", testPassword)
	assert.Equal(t, StatusTwoFactorRequired, res.Status)
}

func TestProvisionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hasher := testHasher()

	_, _, err := ProvisionAccount(ctx, h.store, hasher, ProvisionRequest{Email: "not-an-email", Password: testPassword}, h.clock.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = ProvisionAccount(ctx, h.store, hasher, ProvisionRequest{Email: "new@example.com", Password: "short"}, h.clock.Now())
	assert.ErrorIs(t, err, ErrPasswordTooWeak)

	_, _, err = ProvisionAccount(ctx, h.store, hasher, ProvisionRequest{Email: "new@example.com"}, h.clock.Now())
	assert.ErrorIs(t, err, ErrPasswordTooWeak)
}

func TestProvisionDeactivates(t *testing.T) {
	h := newHarness(t)
	a := h.createAccount(t, testEmail, false)
	session := h.login(t, testEmail, testPassword)

	_, _, err := ProvisionAccount(context.Background(), h.store, testHasher(), ProvisionRequest{Email: testEmail}, h.clock.Now())
	require.NoError(t, err)
	assert.False(t, h.reload(t, a.ID).IsActive)

	_, _, err = h.svc.CurrentAccount(context.Background(), session.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
