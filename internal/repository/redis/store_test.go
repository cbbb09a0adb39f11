package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/client"
	"admin-auth/internal/models"
	"admin-auth/internal/repository"
	"admin-auth/internal/repository/storetest"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return client.WrapRedisClient(rdb, "test"), mr
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.CredentialStore {
		rc, _ := newTestClient(t)
		return NewStore(rc)
	})
}

func TestKeysAreNamespaced(t *testing.T) {
	rc, mr := newTestClient(t)
	store := NewStore(rc)
	ctx := context.Background()

	account := storetest.NewAccount("ns@example.com", time.Now().UTC())
	require.NoError(t, store.CreateAccount(ctx, account))

	assert.True(t, mr.Exists("test:account:"+account.ID))
	assert.True(t, mr.Exists("test:account_email:ns@example.com"))
}

func TestEmailIndexIsCaseInsensitive(t *testing.T) {
	rc, _ := newTestClient(t)
	store := NewStore(rc)
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, storetest.NewAccount("Case@Example.com", time.Now().UTC())))
	got, err := store.GetAccountByEmail(ctx, "case@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Case@Example.com", got.Email)
}

func TestSessionKeyCarriesTTL(t *testing.T) {
	rc, mr := newTestClient(t)
	store := NewStore(rc)
	ctx := context.Background()
	now := time.Now().UTC()

	account := storetest.NewAccount("ttl@example.com", now)
	require.NoError(t, store.CreateAccount(ctx, account))
	err := store.CreateSession(ctx, &models.Session{
		ID: "s", AccountID: account.ID, TokenHash: "digest",
		CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	ttl := mr.TTL("test:session:digest")
	assert.Greater(t, ttl, 24*time.Hour)
	assert.LessOrEqual(t, ttl, 24*time.Hour+expiryGrace)

	mr.FastForward(25 * time.Hour)
	_, err = store.GetSessionByTokenHash(ctx, "digest")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSlidingWindowRateLimit(t *testing.T) {
	rc, _ := newTestClient(t)
	limiter := NewRateLimitCache(rc, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "login:203.0.113.9")
		require.NoError(t, err)
		assert.True(t, allowed, "hit %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "login:198.51.100.1")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")
}

func TestHealthCheck(t *testing.T) {
	rc, mr := newTestClient(t)
	store := NewStore(rc)
	assert.NoError(t, store.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, store.HealthCheck(context.Background()))
}
