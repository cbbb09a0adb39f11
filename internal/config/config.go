package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"admin-auth/internal/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreScylla = "scylla"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Store         StoreConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	SMTP          SMTPConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Audit         AuditConfig
	Hashing       HashingConfig
	Security      SecurityConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
	// X-Forwarded-For, X-Real-IP and X-Forwarded-Proto headers are believed.
	TrustedProxies []string
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type LoggingConfig struct {
	Level          string
	Format         string
	File           string
	FileMaxSizeMB  int
	FileMaxAgeDays int
	FileMaxBackups int
	FileCompress   bool
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ScyllaConfig struct {
	Nodes       []string
	Keyspace    string
	Username    string
	Password    string
	EnableTLS   bool
	CAPath      string
	CertPath    string
	KeyPath     string
	Consistency string
}

// SMTPServer mirrors one entry of the SMTP server list file.
type SMTPServer struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	Connections        int    `yaml:"connections"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	AuthData           struct {
		Username string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
	SendTimeout int    `yaml:"sendTimeout"`
	Transport   string `yaml:"transport"`
}

// Address URI to smtp server
func (s SMTPServer) Address() string {
	return s.Host + ":" + s.Port
}

type SMTPConfig struct {
	Enabled bool
	Servers []SMTPServer `yaml:"servers"`
	From    string       `yaml:"from"`
	Sender  string       `yaml:"sender"`
	ReplyTo []string     `yaml:"replyTo"`
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	Table    string
	Secure   bool
	CAFile   string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	LogEvents  bool
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

// SecurityConfig carries every policy constant of the credential and session lifecycle.
type SecurityConfig struct {
	LockoutThreshold    int
	LockoutDuration     time.Duration
	SessionTTL          time.Duration
	TwoFactorCodeTTL    time.Duration
	TwoFactorCodeDigits int
	ResetTokenTTL       time.Duration
	OperationTimeout    time.Duration
	SweepInterval       time.Duration
	LoginRatePerMinute  int
	LoginRateBurst      int
	TokenSecret         string
	PublicBaseURL       string
	ResetPath           string
	RevokeOnChange      bool
	CookieSecure        bool
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	envFile := util.GetEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envFile, err)
	}

	cfg := &Config{
		Environment: util.GetEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:        util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:         util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    util.GetEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:          util.GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: util.GetEnvSlice("SERVER_ALLOWED_ORIGINS", []string{"https://*"}),
			TrustedProxies: util.GetEnvSlice("TRUSTED_PROXIES", nil),
		},
		Logging: LoggingConfig{
			Level:          util.GetEnv("LOG_LEVEL", "info"),
			Format:         util.GetEnv("LOG_FORMAT", "json"),
			File:           util.GetEnv("LOG_FILE", ""),
			FileMaxSizeMB:  util.GetEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
			FileMaxAgeDays: util.GetEnvInt("LOG_FILE_MAX_AGE_DAYS", 28),
			FileMaxBackups: util.GetEnvInt("LOG_FILE_MAX_BACKUPS", 5),
			FileCompress:   util.GetEnvBool("LOG_FILE_COMPRESS", true),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(util.GetEnv("STORE_DRIVER", StoreSQLite)),
		},
		SQLite: SQLiteConfig{
			Path: util.GetEnv("SQLITE_PATH", "./data/admin-auth.db"),
		},
		Redis: RedisConfig{
			URL:       util.GetEnv("REDIS_URL", ""),
			Password:  util.GetEnv("REDIS_PASSWORD", ""),
			DB:        util.GetEnvInt("REDIS_DB", 0),
			PoolSize:  util.GetEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: util.GetEnv("REDIS_KEY_PREFIX", "admin"),
		},
		Scylla: ScyllaConfig{
			Nodes:       util.GetEnvSlice("SCYLLA_NODES", []string{"127.0.0.1"}),
			Keyspace:    util.GetEnv("SCYLLA_KEYSPACE", "admin_auth"),
			Username:    util.GetEnv("SCYLLA_USERNAME", ""),
			Password:    util.GetEnv("SCYLLA_PASSWORD", ""),
			EnableTLS:   util.GetEnvBool("SCYLLA_ENABLE_TLS", false),
			CAPath:      util.GetEnv("SCYLLA_CA_PATH", ""),
			CertPath:    util.GetEnv("SCYLLA_CERT_PATH", ""),
			KeyPath:     util.GetEnv("SCYLLA_KEY_PATH", ""),
			Consistency: util.GetEnv("SCYLLA_CONSISTENCY", "LOCAL_QUORUM"),
		},
		SMTP: SMTPConfig{
			Enabled: util.GetEnvBool("SMTP_ENABLED", false),
			From:    util.GetEnv("SMTP_FROM", "no-reply@localhost"),
			Sender:  util.GetEnv("SMTP_SENDER", ""),
			ReplyTo: util.GetEnvSlice("SMTP_REPLY_TO", nil),
		},
		Kafka: KafkaConfig{
			Enabled: util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers: util.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   util.GetEnv("KAFKA_SECURITY_TOPIC", "admin-auth.security-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_INDEX", "admin-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "default"),
			Table:    util.GetEnv("CLICKHOUSE_TABLE", "admin_security_events"),
			Secure:   util.GetEnvBool("CLICKHOUSE_SECURE", false),
			CAFile:   util.GetEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Audit: AuditConfig{
			Enabled:    util.GetEnvBool("AUDIT_ENABLED", true),
			BufferSize: util.GetEnvInt("AUDIT_BUFFER_SIZE", 1024),
			DropIfFull: util.GetEnvBool("AUDIT_DROP_IF_FULL", true),
			LogEvents:  util.GetEnvBool("AUDIT_LOG_EVENTS", true),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  util.GetEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    util.GetEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: util.GetEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            util.GetEnv("PASSWORD_PEPPER", ""),
		},
		Security: SecurityConfig{
			LockoutThreshold:    util.GetEnvInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:     util.GetEnvDuration("LOCKOUT_DURATION", 15*time.Minute),
			SessionTTL:          util.GetEnvDuration("SESSION_TTL", 24*time.Hour),
			TwoFactorCodeTTL:    util.GetEnvDuration("TWO_FACTOR_CODE_TTL", 10*time.Minute),
			TwoFactorCodeDigits: 6,
			ResetTokenTTL:       util.GetEnvDuration("RESET_TOKEN_TTL", time.Hour),
			OperationTimeout:    util.GetEnvDuration("OPERATION_TIMEOUT", 5*time.Second),
			SweepInterval:       util.GetEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
			LoginRatePerMinute:  util.GetEnvInt("LOGIN_RATE_PER_MINUTE", 10),
			LoginRateBurst:      util.GetEnvInt("LOGIN_RATE_BURST", 5),
			TokenSecret:         util.GetEnv("TOKEN_HASH_SECRET", ""),
			PublicBaseURL:       strings.TrimRight(util.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			ResetPath:           util.GetEnv("RESET_PATH", "/admin/reset-password"),
			RevokeOnChange:      util.GetEnvBool("REVOKE_SESSIONS_ON_PASSWORD_CHANGE", true),
			CookieSecure:        util.GetEnvBool("COOKIE_SECURE", true),
		},
	}

	if path := util.GetEnv("SMTP_SERVERS_FILE", ""); path != "" {
		if err := cfg.SMTP.ReadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read SMTP servers file %s: %v\n", path, err)
		}
	} else if host := util.GetEnv("SMTP_HOST", ""); host != "" {
		server := SMTPServer{
			Host:        host,
			Port:        util.GetEnv("SMTP_PORT", "587"),
			Connections: util.GetEnvInt("SMTP_CONNECTIONS", 2),
			SendTimeout: util.GetEnvInt("SMTP_SEND_TIMEOUT_SECONDS", 5),
			Transport:   util.GetEnv("SMTP_TRANSPORT", "smtppool"),
		}
		server.AuthData.Username = util.GetEnv("SMTP_USERNAME", "")
		server.AuthData.Password = util.GetEnv("SMTP_PASSWORD", "")
		cfg.SMTP.Servers = []SMTPServer{server}
	}

	return cfg
}

// ReadFromFile merges a YAML server list into the SMTP config.
func (c *SMTPConfig) ReadFromFile(fname string) error {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return err
	}
	var fileCfg SMTPConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse SMTP servers file: %w", err)
	}
	c.Servers = fileCfg.Servers
	if fileCfg.From != "" {
		c.From = fileCfg.From
	}
	if fileCfg.Sender != "" {
		c.Sender = fileCfg.Sender
	}
	if len(fileCfg.ReplyTo) > 0 {
		c.ReplyTo = fileCfg.ReplyTo
	}
	return nil
}

// Validate rejects configurations the auth flows cannot run with.
func (c *Config) Validate() error {
	var errs []error
	s := c.Security
	if s.LockoutThreshold < 1 {
		errs = append(errs, errors.New("LOCKOUT_THRESHOLD must be at least 1"))
	}
	if s.LockoutDuration <= 0 {
		errs = append(errs, errors.New("LOCKOUT_DURATION must be positive"))
	}
	if s.SessionTTL <= 0 || s.TwoFactorCodeTTL <= 0 || s.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("session, two-factor and reset TTLs must be positive"))
	}
	if s.OperationTimeout <= 0 {
		errs = append(errs, errors.New("OPERATION_TIMEOUT must be positive"))
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if s.TwoFactorCodeDigits < 4 || s.TwoFactorCodeDigits > 9 {
		errs = append(errs, errors.New("two-factor code digits must be between 4 and 9"))
	}
	switch c.Store.Driver {
	case StoreSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case StoreScylla:
		if len(c.Scylla.Nodes) == 0 {
			errs = append(errs, errors.New("SCYLLA_NODES is required for the scylla store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.IsProduction() {
		if len(s.TokenSecret) < 32 {
			errs = append(errs, errors.New("TOKEN_HASH_SECRET must be at least 32 characters in production"))
		}
		if !c.SMTP.Enabled {
			errs = append(errs, errors.New("SMTP must be enabled in production"))
		}
	}
	if c.SMTP.Enabled && len(c.SMTP.Servers) == 0 {
		errs = append(errs, errors.New("SMTP is enabled but no servers are configured"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// LogFileOutput adapts the logging section for util.Init.
func (c *Config) LogFileOutput() *util.FileOutput {
	if c.Logging.File == "" {
		return nil
	}
	return &util.FileOutput{
		Path:       c.Logging.File,
		MaxSizeMB:  c.Logging.FileMaxSizeMB,
		MaxAgeDays: c.Logging.FileMaxAgeDays,
		MaxBackups: c.Logging.FileMaxBackups,
		Compress:   c.Logging.FileCompress,
	}
}
