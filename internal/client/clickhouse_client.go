package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"admin-auth/internal/config"
	"admin-auth/internal/util"
)

// ClickHouseClient owns the connection behind the security event table.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	opts, err := clickhouseOptions(cfg.Clickhouse, cfg.IsProduction())
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.Strings("addr", opts.Addr),
		zap.String("database", opts.Auth.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))

	return &ClickHouseClient{conn: conn, database: opts.Auth.Database}, nil
}

// clickhouseOptions accepts either a clickhouse:// DSN or a bare host:port.
// Explicit credentials in the config win over those in the DSN.
func clickhouseOptions(c config.ClickhouseConfig, production bool) (*ch.Options, error) {
	var opts *ch.Options
	if strings.Contains(c.URL, "://") {
		parsed, err := ch.ParseDSN(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid CLICKHOUSE_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &ch.Options{Addr: []string{c.URL}}
	}

	if c.Username != "" {
		opts.Auth.Username = c.Username
		opts.Auth.Password = c.Password
	}
	if c.Database != "" {
		opts.Auth.Database = c.Database
	}
	opts.DialTimeout = 10 * time.Second
	opts.MaxOpenConns = 4
	opts.MaxIdleConns = 2
	opts.ConnMaxLifetime = time.Hour

	if opts.TLS == nil && (c.Secure || production) {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if opts.TLS != nil && c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.CAFile)
		}
		opts.TLS.RootCAs = pool
	}
	return opts, nil
}

// CreateEventTable creates the MergeTree table security events land in.
func (c *ClickHouseClient) CreateEventTable(ctx context.Context, table string) error {
	return c.conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        id String,
        event_type LowCardinality(String),
        account_id String,
        email String,
        ip_address String,
        user_agent String,
        success Bool,
        details String,
        occurred_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(occurred_at)
    ORDER BY (event_type, occurred_at)`, table))
}

// InsertEvents sends all rows in one native batch.
func (c *ClickHouseClient) InsertEvents(ctx context.Context, table string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed", zap.String("database", c.database))
	return nil
}
