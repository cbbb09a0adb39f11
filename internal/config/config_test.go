package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := LoadConfig()

	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Security.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
	assert.Equal(t, 24*time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.Security.TwoFactorCodeTTL)
	assert.Equal(t, time.Hour, cfg.Security.ResetTokenTTL)
	assert.Equal(t, 6, cfg.Security.TwoFactorCodeDigits)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOCKOUT_THRESHOLD=3\nSESSION_TTL=2h\nSTORE_DRIVER=REDIS\nREDIS_URL=redis://localhost:6379/0\n"), 0o600))
	t.Setenv("ENV_FILE", envFile)
	t.Cleanup(func() {
		for _, key := range []string{"LOCKOUT_THRESHOLD", "SESSION_TTL", "STORE_DRIVER", "REDIS_URL"} {
			_ = os.Unsetenv(key)
		}
	})

	cfg := LoadConfig()
	assert.Equal(t, 3, cfg.Security.LockoutThreshold)
	assert.Equal(t, 2*time.Hour, cfg.Security.SessionTTL)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := LoadConfig()
	cfg.Security.LockoutThreshold = 0
	cfg.Store.Driver = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCKOUT_THRESHOLD")
	assert.Contains(t, err.Error(), "postgres")
}

func TestValidateProductionRequiresSecretAndSMTP(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := LoadConfig()
	cfg.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_HASH_SECRET")
	assert.Contains(t, err.Error(), "SMTP")
}

func TestSMTPReadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smtp.yaml")
	doc := `servers:
  - host: smtp.example.com
    port: "587"
    connections: 3
    sendTimeout: 7
    auth:
      user: mailer
      password: secret
from: "Back Office <no-reply@example.com>"
replyTo:
  - ops@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var smtp SMTPConfig
	require.NoError(t, smtp.ReadFromFile(path))
	require.Len(t, smtp.Servers, 1)
	assert.Equal(t, "smtp.example.com:587", smtp.Servers[0].Address())
	assert.Equal(t, "mailer", smtp.Servers[0].AuthData.Username)
	assert.Equal(t, 7, smtp.Servers[0].SendTimeout)
	assert.Equal(t, "Back Office <no-reply@example.com>", smtp.From)
	assert.Equal(t, []string{"ops@example.com"}, smtp.ReplyTo)
}

func TestTrustedProxyPrefixes(t *testing.T) {
	server := ServerConfig{TrustedProxies: []string{"10.0.0.0/8", "192.168.1.10", "::1", "10.1.2.3/16"}}
	prefixes, err := server.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 4)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.10/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())
	assert.Equal(t, "10.1.0.0/16", prefixes[3].String())

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := LoadConfig()
	assert.Empty(t, cfg.Server.TrustedProxies)
	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-an-ip")
}
