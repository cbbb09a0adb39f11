package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/config"
	"admin-auth/internal/handler"
	redisstore "admin-auth/internal/repository/redis"
	"admin-auth/internal/repository/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Store:       config.StoreConfig{Driver: config.StoreSQLite},
		SQLite:      config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "auth.db")},
		Redis:       config.RedisConfig{KeyPrefix: "test", PoolSize: 4},
		Audit:       config.AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true},
		Hashing:     config.HashingConfig{Argon2MemoryCost: 8 * 1024, Argon2TimeCost: 1, Argon2Parallelism: 1},
		Security: config.SecurityConfig{
			LockoutThreshold:    5,
			LockoutDuration:     15 * time.Minute,
			SessionTTL:          24 * time.Hour,
			TwoFactorCodeTTL:    10 * time.Minute,
			TwoFactorCodeDigits: 6,
			ResetTokenTTL:       time.Hour,
			OperationTimeout:    time.Second,
			SweepInterval:       time.Minute,
			LoginRatePerMinute:  10,
			LoginRateBurst:      5,
			TokenSecret:         "factory-test-secret-with-enough-bytes",
		},
	}
}

func TestFactoryWithSQLiteStore(t *testing.T) {
	f, err := New(testConfig(t))
	require.NoError(t, err)

	assert.IsType(t, &sqlite.Store{}, f.Store())
	assert.IsType(t, &handler.LocalThrottle{}, f.Throttler())
	assert.Nil(t, f.TLSManager())
	assert.Empty(t, f.HealthCheck(context.Background()))
	assert.True(t, f.IsHealthy(context.Background()))

	svc, err := f.ServiceFactory().AuthService()
	require.NoError(t, err)
	again, err := f.ServiceFactory().AuthService()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	f.StartBackground()
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	f.WaitForClose()
}

func TestFactoryWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreRedis
	cfg.Redis.URL = "redis://" + mr.Addr()

	f, err := New(cfg)
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &redisstore.Store{}, f.Store())
	assert.IsType(t, &redisstore.RateLimitCache{}, f.Throttler())
	assert.Empty(t, f.HealthCheck(context.Background()))
}

func TestFactoryRedisThrottleBesideSQLite(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()

	f, err := New(cfg)
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &sqlite.Store{}, f.Store())
	assert.IsType(t, &redisstore.RateLimitCache{}, f.Throttler())

	mr.Close()
	health := f.HealthCheck(context.Background())
	assert.Contains(t, health, "redis")
	assert.NotContains(t, health, "store")
	assert.True(t, f.IsHealthy(context.Background()))
}

func TestFactoryRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(context.Background()))
	require.NoError(t, store.Close())

	cfg := testConfig(t)
	cfg.Store.Driver = "mongo"
	store, err = OpenStore(cfg)
	assert.Error(t, err)
	assert.Nil(t, store)
}
