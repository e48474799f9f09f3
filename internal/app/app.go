// Package app wires configuration into storage, use cases and the outbox relay.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	postgresRepo "github.com/iho/eventledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/eventledger/internal/adapter/repository/redis"
	sqliteRepo "github.com/iho/eventledger/internal/adapter/repository/sqlite"
	"github.com/iho/eventledger/internal/infrastructure/config"
	"github.com/iho/eventledger/internal/infrastructure/eventpublisher"
	"github.com/iho/eventledger/internal/infrastructure/metrics"
	"github.com/iho/eventledger/internal/infrastructure/postgres"
	"github.com/iho/eventledger/internal/infrastructure/redis"
	"github.com/iho/eventledger/internal/usecase"
)

// Storage is one backend's implementation of the persistence ports.
type Storage struct {
	Driver    string
	TxManager usecase.TransactionManager
	Events    usecase.EventStore
	Outbox    usecase.OutboxRepository
	Views     usecase.AccountViewRepository
	// Retrier is nil for backends without transient errors worth retrying.
	Retrier usecase.Retrier
	Ping    func(ctx context.Context) error
	Close   func() error
}

// OpenStorage connects the backend selected by cfg.StorageDriver.
func OpenStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DatabaseMaxConns,
			MinConns:    cfg.DatabaseMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &Storage{
			Driver:    config.StoragePostgres,
			TxManager: postgresRepo.NewTxManager(pool),
			Events:    postgresRepo.NewEventStore(pool),
			Outbox:    postgresRepo.NewOutboxRepository(pool),
			Views:     postgresRepo.NewAccountViewRepository(pool),
			Retrier:   postgresRepo.NewRetrier(logger),
			Ping:      pool.Ping,
			Close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.StorageSQLite:
		db, err := sqliteRepo.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Driver:    config.StorageSQLite,
			TxManager: sqliteRepo.NewTxManager(db),
			Events:    sqliteRepo.NewEventStore(db),
			Outbox:    sqliteRepo.NewOutboxRepository(db),
			Views:     sqliteRepo.NewAccountViewRepository(db),
			Ping: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			Close: func() error { return sqliteRepo.Close(db) },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// App holds the wired components of one process.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Storage  *Storage
	Redis    *goredis.Client
	Ledger   *usecase.LedgerUseCase
	Accounts *usecase.AccountUseCase
}

// Option configures New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	storage    *Storage
	clock      usecase.Clock
}

// WithRegisterer enables metrics registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStorage uses storage instead of opening the configured backend.
func WithStorage(storage *Storage) Option {
	return func(o *options) { o.storage = storage }
}

// WithClock overrides the time source of the ledger.
func WithClock(now usecase.Clock) Option {
	return func(o *options) { o.clock = now }
}

// New connects storage (and Redis when needed) and builds the use cases.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, Storage: o.storage}
	if o.registerer != nil {
		a.Metrics = metrics.NewWithRegisterer(o.registerer)
	}

	if a.Storage == nil {
		storage, err := OpenStorage(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Storage = storage
	}
	logger.Info().Str("driver", a.Storage.Driver).Msg("storage connected")

	if cfg.NeedsRedis() {
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = a.Storage.Close()
			return nil, err
		}
		a.Redis = client
		logger.Info().Msg("connected to redis")
	}

	var cache usecase.Cache
	if cfg.CacheEnabled {
		cache = redisRepo.NewCache(a.Redis)
	}

	ledgerOpts := []usecase.Option{
		usecase.WithLogger(logger.With().Str("component", "ledger").Logger()),
	}
	if cache != nil {
		ledgerOpts = append(ledgerOpts, usecase.WithCache(cache))
	}
	if a.Storage.Retrier != nil {
		ledgerOpts = append(ledgerOpts, usecase.WithRetrier(a.Storage.Retrier))
	}
	if a.Metrics != nil {
		ledgerOpts = append(ledgerOpts, usecase.WithMetrics(a.Metrics))
	}
	if o.clock != nil {
		ledgerOpts = append(ledgerOpts, usecase.WithClock(o.clock))
	}

	a.Ledger = usecase.NewLedgerUseCase(
		a.Storage.TxManager,
		a.Storage.Events,
		a.Storage.Outbox,
		a.Storage.Views,
		postgresRepo.NewULIDGenerator(),
		ledgerOpts...,
	)
	a.Accounts = usecase.NewAccountUseCase(a.Storage.Events, a.Storage.Views, cache, cfg.CacheTTL, a.Metrics, logger)

	return a, nil
}

// Publisher returns the message bus selected by cfg.Publisher.
func (a *App) Publisher() (eventpublisher.Publisher, error) {
	switch a.Config.Publisher {
	case config.PublisherRedis:
		if a.Redis == nil {
			return nil, errors.New("redis publisher requires a redis connection")
		}
		return eventpublisher.NewRedisStreamPublisher(a.Redis, a.Config.StreamPrefix, 0), nil
	case config.PublisherLog:
		return eventpublisher.NewLogPublisher(a.Logger.With().Str("component", "publisher").Logger()), nil
	default:
		return nil, fmt.Errorf("unsupported publisher %q", a.Config.Publisher)
	}
}

// Dispatcher builds the outbox relay over the configured storage and publisher.
func (a *App) Dispatcher(publisher eventpublisher.Publisher) *eventpublisher.Dispatcher {
	opts := []eventpublisher.Option{
		eventpublisher.WithLogger(a.Logger.With().Str("component", "dispatcher").Logger()),
	}
	if a.Metrics != nil {
		opts = append(opts, eventpublisher.WithMetrics(a.Metrics))
	}

	return eventpublisher.NewDispatcher(a.Storage.Outbox, publisher, eventpublisher.DefaultRegistry(), eventpublisher.Config{
		Interval:       a.Config.OutboxInterval,
		BatchSize:      a.Config.OutboxBatchSize,
		MaxAttempts:    a.Config.OutboxMaxAttempts,
		BaseBackoff:    a.Config.OutboxBaseBackoff,
		MaxBackoff:     a.Config.OutboxMaxBackoff,
		PublishTimeout: a.Config.OutboxPublishTimeout,
		StoreTimeout:   a.Config.DatabaseTimeout,
		PublishRate:    a.Config.OutboxPublishRate,
		PublishBurst:   a.Config.OutboxPublishBurst,
	}, opts...)
}

// PurgeOutbox deletes records processed more than the configured retention before now.
func (a *App) PurgeOutbox(ctx context.Context, now time.Time) (int64, error) {
	if a.Config.OutboxRetention <= 0 {
		return 0, nil
	}
	deleted, err := a.Storage.Outbox.DeleteProcessed(ctx, now.Add(-a.Config.OutboxRetention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		a.Logger.Info().Int64("deleted", deleted).Dur("retention", a.Config.OutboxRetention).Msg("purged processed outbox records")
	}
	return deleted, nil
}

// Close releases Redis and storage connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Storage != nil && a.Storage.Close != nil {
		errs = append(errs, a.Storage.Close())
	}
	return errors.Join(errs...)
}
