package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"admin-auth/internal/audit"
	"admin-auth/internal/client"
	"admin-auth/internal/config"
	"admin-auth/internal/handler"
	"admin-auth/internal/hashing"
	"admin-auth/internal/mailer"
	"admin-auth/internal/repository"
	redisstore "admin-auth/internal/repository/redis"
	"admin-auth/internal/repository/scylla"
	"admin-auth/internal/repository/sqlite"
	"admin-auth/internal/service"
	"admin-auth/internal/tls"
	"admin-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	store      repository.CredentialStore
	hasher     *hashing.Hasher
	sender     mailer.Sender
	dispatcher *audit.Dispatcher
	throttle   handler.Throttler

	// Clients wrapped by an audit sink are closed by the dispatcher.
	kafkaInSink      bool
	clickhouseInSink bool

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads and validates the configuration, initializes the global
// logger and builds every dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format, cfg.LogFileOutput())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return New(cfg)
}

// New builds the dependency graph for an already loaded configuration.
func New(cfg *config.Config) (*Factory, error) {
	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment)
	}

	if err := f.initializeClients(); err != nil {
		f.closeClients()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeStore(); err != nil {
		f.closeClients()
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	if err := f.initializeManagers(); err != nil {
		f.Close()
		return nil, err
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.Store.Driver),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("smtp_enabled", cfg.SMTP.Enabled),
	)

	return f, nil
}

// initializeClients connects the store backend and the optional audit
// pipelines. The store client is required; audit clients degrade to a
// warning outside production.
func (f *Factory) initializeClients() error {
	cfg := f.config

	switch cfg.Store.Driver {
	case config.StoreScylla:
		c, err := scylla.NewScyllaClient(cfg)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
	case config.StoreRedis:
		c, err := client.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
	}

	// A Redis URL next to another store still backs the shared login throttle.
	if f.redisClient == nil && cfg.Redis.URL != "" {
		if c, err := client.NewRedisClient(cfg); err != nil {
			util.Warn("Redis unavailable, using in-process login throttle", util.ErrorField(err))
		} else {
			f.redisClient = c
		}
	}

	var initErrors []error

	if cfg.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if cfg.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
		}
	}

	if cfg.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(cfg); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
		}
	}

	if len(initErrors) > 0 {
		if cfg.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeStore() error {
	switch f.config.Store.Driver {
	case config.StoreSQLite:
		store, err := OpenStore(f.config)
		if err != nil {
			return err
		}
		f.store = store
	case config.StoreRedis:
		f.store = redisstore.NewStore(f.redisClient)
	case config.StoreScylla:
		f.store = scylla.NewStore(f.scyllaClient)
	default:
		return fmt.Errorf("unknown store driver %q", f.config.Store.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check: %w", f.config.Store.Driver, err)
	}

	util.Info("Credential store ready", util.String("driver", f.config.Store.Driver))
	return nil
}

// initializeManagers builds the hasher, the mail sender, the audit pipeline
// and the login throttle.
func (f *Factory) initializeManagers() error {
	cfg := f.config
	f.hasher = hashing.NewHasher(cfg)

	if cfg.SMTP.Enabled {
		sender, err := mailer.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return fmt.Errorf("smtp: %w", err)
		}
		f.sender = sender
	} else {
		util.Warn("SMTP disabled, mails are written to the log")
		f.sender = mailer.NewLogSender(cfg.IsDevelopment())
	}

	sinks, err := f.auditSinks()
	if err != nil {
		return err
	}
	f.dispatcher = audit.NewDispatcher(cfg.Audit, sinks...)
	for _, sink := range sinks {
		switch sink.(type) {
		case *audit.KafkaSink:
			f.kafkaInSink = true
		case *audit.ClickHouseSink:
			f.clickhouseInSink = true
		}
	}

	if f.redisClient != nil {
		f.throttle = redisstore.NewRateLimitCache(f.redisClient, cfg.Security.LoginRatePerMinute, time.Minute)
	} else {
		f.throttle = handler.NewLocalThrottle(cfg.Security.LoginRatePerMinute, cfg.Security.LoginRateBurst)
	}

	util.Info("Managers initialized successfully",
		util.Int("audit_sinks", len(sinks)),
		util.Bool("shared_throttle", f.redisClient != nil),
	)
	return nil
}

func (f *Factory) auditSinks() ([]audit.Sink, error) {
	cfg := f.config
	if !cfg.Audit.Enabled {
		return nil, nil
	}

	var sinks []audit.Sink
	if cfg.Audit.LogEvents {
		sinks = append(sinks, audit.LogSink{})
	}
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.Index))
	}
	if f.clickhouseClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink, err := audit.NewClickHouseSink(ctx, f.clickhouseClient, cfg.Clickhouse.Table)
		if err != nil {
			if cfg.IsProduction() {
				return nil, fmt.Errorf("clickhouse audit sink: %w", err)
			}
			util.Warn("ClickHouse audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	return sinks, nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var recorder audit.Recorder = audit.Discard
		if f.config.Audit.Enabled {
			recorder = f.dispatcher
		}
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.store,
			f.hasher,
			f.sender,
			recorder,
			util.SystemClock{},
		)
	}
	return f.serviceFactory
}

// StartBackground starts the audit dispatcher and the expiry sweeper.
func (f *Factory) StartBackground() {
	f.dispatcher.Start()
	f.ServiceFactory().Sweeper().Start()
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every connected dependency concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	checks := map[string]func(context.Context) error{
		"store": f.store.HealthCheck,
	}
	if f.redisClient != nil && f.config.Store.Driver != config.StoreRedis {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var g errgroup.Group
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return healthErrors
}

// IsHealthy ignores the audit pipelines; only the store gates readiness.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	return f.HealthCheck(ctx)["store"] == nil
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.dispatcher != nil {
			if err := f.dispatcher.Close(); err != nil {
				util.Error("Failed to close audit dispatcher", util.ErrorField(err))
			} else {
				util.Info("Audit dispatcher closed", util.Any("dropped_events", f.dispatcher.Dropped()))
			}
		}

		if f.sender != nil {
			if err := f.sender.Close(); err != nil {
				util.Error("Failed to close mail sender", util.ErrorField(err))
			}
		}

		if f.store != nil {
			if err := f.store.Close(); err != nil {
				util.Error("Failed to close credential store", util.ErrorField(err))
			} else {
				util.Info("Credential store closed")
			}
			// Store-owned clients are closed with the store.
			if f.config.Store.Driver == config.StoreRedis {
				f.redisClient = nil
			}
			f.scyllaClient = nil
		}

		f.closeClients()

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

// closeClients releases clients not owned by the store or the dispatcher.
func (f *Factory) closeClients() {
	if f.esClient != nil {
		f.esClient.Close()
	}
	if f.kafkaProducer != nil && !f.kafkaInSink {
		_ = f.kafkaProducer.Close()
	}
	if f.clickhouseClient != nil && !f.clickhouseInSink {
		_ = f.clickhouseClient.Close()
	}
	if f.scyllaClient != nil {
		f.scyllaClient.Close()
	}
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil {
			util.Error("Failed to close Redis client", util.ErrorField(err))
		}
	}
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Store() repository.CredentialStore {
	return f.store
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) Throttler() handler.Throttler {
	return f.throttle
}

// OpenStore connects only the configured credential store, for tools that
// need neither the audit pipeline nor a mailer.
func OpenStore(cfg *config.Config) (repository.CredentialStore, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		rc, err := client.NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		return redisstore.NewStore(rc), nil
	case config.StoreScylla:
		sc, err := scylla.NewScyllaClient(cfg)
		if err != nil {
			return nil, err
		}
		return scylla.NewStore(sc), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
