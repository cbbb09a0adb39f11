package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-auth/internal/config"
)

func TestClickHouseOptionsFromHostPort(t *testing.T) {
	opts, err := clickhouseOptions(config.ClickhouseConfig{
		URL:      "ch.internal:9000",
		Username: "audit",
		Password: "secret",
		Database: "security",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch.internal:9000"}, opts.Addr)
	assert.Equal(t, "audit", opts.Auth.Username)
	assert.Equal(t, "security", opts.Auth.Database)
	assert.Nil(t, opts.TLS)
}

func TestClickHouseOptionsFromDSN(t *testing.T) {
	opts, err := clickhouseOptions(config.ClickhouseConfig{
		URL: "clickhouse://reader:pw@ch1:9440/analytics?secure=true",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch1:9440"}, opts.Addr)
	assert.Equal(t, "reader", opts.Auth.Username)
	assert.Equal(t, "analytics", opts.Auth.Database)
	assert.NotNil(t, opts.TLS)
}

func TestClickHouseOptionsTLS(t *testing.T) {
	opts, err := clickhouseOptions(config.ClickhouseConfig{URL: "ch:9440"}, true)
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = clickhouseOptions(config.ClickhouseConfig{URL: "ch:9440", Secure: true, CAFile: bad}, false)
	assert.Error(t, err)
}
