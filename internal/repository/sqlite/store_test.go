package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/repository/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.CredentialStore {
		return newTestStore(t)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth.db")

	first, err := Open(path)
	require.NoError(t, err)
	account := storetest.NewAccount("persist@example.com", time.Now().UTC())
	require.NoError(t, first.CreateAccount(context.Background(), account))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetAccountByEmail(context.Background(), "persist@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestEmailLookupIgnoresCase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, storetest.NewAccount("Mixed@Example.com", time.Now().UTC())))

	_, err := store.GetAccountByEmail(ctx, "mixed@example.com")
	assert.NoError(t, err)
}

func TestForeignKeysEnforced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	account := storetest.NewAccount("cascade@example.com", now)
	require.NoError(t, store.CreateAccount(ctx, account))

	_, err := store.db.ExecContext(ctx, `DELETE FROM admin_accounts WHERE id = ?`, account.ID)
	require.NoError(t, err)

	err = store.ReplaceResetToken(ctx, &models.PasswordResetToken{
		AccountID: account.ID, TokenHash: "orphan", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	})
	assert.Error(t, err, "foreign keys are enforced")
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
