// Package app assembles the acquisition engine from configuration. The
// server, the worker and the admin CLI share this wiring.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/document-acquisition-service/internal/acquisition"
	"github.com/helixir/document-acquisition-service/internal/config"
	"github.com/helixir/document-acquisition-service/internal/database"
	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/events"
	"github.com/helixir/document-acquisition-service/internal/lock"
	"github.com/helixir/document-acquisition-service/internal/observability"
	"github.com/helixir/document-acquisition-service/internal/ranking"
	"github.com/helixir/document-acquisition-service/internal/repository"
	"github.com/helixir/document-acquisition-service/internal/retry"
	"github.com/helixir/document-acquisition-service/internal/sources"
	"github.com/helixir/document-acquisition-service/internal/storage"
	"github.com/helixir/document-acquisition-service/migrations"
)

// Engine holds the wired acquisition components.
type Engine struct {
	Registry     *sources.Registry
	Sources      *repository.PgSourceRepository
	Retries      *repository.PgRetryRepository
	Analytics    *repository.PgAnalyticsRepository
	Orchestrator *acquisition.Orchestrator
	Scheduler    *retry.Scheduler
	Service      *acquisition.Service

	closers []func() error
	logger  zerolog.Logger
}

// NewEngine registers the sources in the database and wires the orchestrator,
// the retry scheduler and the service on top of db. metrics may be nil.
func NewEngine(ctx context.Context, cfg *config.Config, db *database.DB, metrics *observability.Metrics, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger}

	registry, err := BuildRegistry(cfg.Sources, cfg.Acquisition, logger)
	if err != nil {
		return nil, err
	}
	e.Registry = registry

	e.Sources = repository.NewPgSourceRepository(db)
	defs := registry.Definitions()
	bootstrap := make([]domain.Source, 0, len(defs))
	for _, d := range defs {
		bootstrap = append(bootstrap, d.ToDomain())
	}
	if err := e.Sources.EnsureRegistered(ctx, bootstrap); err != nil {
		return nil, fmt.Errorf("register sources: %w", err)
	}

	ledger := repository.NewPgLedger(db, logger)
	patterns := repository.NewPgPatternRepository(db)
	e.Retries = repository.NewPgRetryRepository(db)
	e.Analytics = repository.NewPgAnalyticsRepository(db, logger)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("create document store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		e.closers = append(e.closers, c.Close)
	}

	locker, err := e.newLocker(ctx, cfg.Redis)
	if err != nil {
		e.Close()
		return nil, err
	}

	publisher := e.newPublisher(cfg.Kafka)

	retryCfg := RetryConfig(cfg.Retry)
	queue := retry.NewQueue(e.Retries, retryCfg, metrics, logger)

	selector := ranking.NewSelector(e.Sources, patterns, ranking.Config{
		UsePublisherPatterns: cfg.Acquisition.UsePublisherPatterns,
		MinPatternSuccesses:  cfg.Acquisition.PatternMinSuccesses,
	}, logger)

	e.Orchestrator = acquisition.NewOrchestrator(acquisition.Deps{
		Adapters:  registry,
		Planner:   selector,
		Ledger:    ledger,
		Queue:     queue,
		Store:     store,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   metrics,
		Tracer:    observability.Tracer(),
	}, acquisition.Config{
		InterAttemptDelay:    cfg.Acquisition.InterAttemptDelay,
		DefaultSourceTimeout: acquisition.DefaultConfig().DefaultSourceTimeout,
		PatternMinSuccesses:  cfg.Acquisition.PatternMinSuccesses,
	}, logger)

	e.Scheduler = retry.NewScheduler(e.Retries, e.Orchestrator, retryCfg, metrics, logger)

	e.Service = acquisition.NewService(acquisition.ServiceDeps{
		Acquirer:  e.Orchestrator,
		Sweeper:   e.Scheduler,
		Sources:   e.Sources,
		Patterns:  patterns,
		Retries:   e.Retries,
		Analytics: e.Analytics,
	}, logger)

	logger.Info().
		Int("sources", registry.Len()).
		Str("storage", cfg.Storage.Backend).
		Bool("redis_lock", cfg.Redis.Enabled).
		Bool("kafka_events", cfg.Kafka.Enabled).
		Msg("acquisition engine ready")

	return e, nil
}

// RetryConfig maps the retry configuration section onto retry.Config.
func RetryConfig(c config.RetryConfig) retry.Config {
	return retry.Config{
		MaxRetries:    c.MaxRetries,
		BaseDelay:     c.BaseDelay,
		MaxDelay:      c.MaxDelay,
		Jitter:        c.Jitter,
		BatchSize:     c.SweepBatchSize,
		Concurrency:   c.SweepConcurrency,
		LeaseDuration: c.LeaseDuration,
	}
}

func (e *Engine) newLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, error) {
	if !cfg.Enabled {
		e.logger.Warn().Msg("redis disabled; acquisition lock is process-local")
		return lock.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	e.closers = append(e.closers, client.Close)
	e.logger.Info().Str("addr", cfg.Addr).Msg("redis acquisition lock connected")

	return lock.NewRedisLocker(client, cfg.LockTTL), nil
}

func (e *Engine) newPublisher(cfg config.KafkaConfig) events.Publisher {
	if !cfg.Enabled {
		return events.NopPublisher{}
	}

	p := events.NewKafkaPublisher(events.PublisherConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.EventsTopic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, e.logger)
	e.closers = append(e.closers, p.Close)
	e.logger.Info().Str("topic", cfg.EventsTopic).Msg("kafka event publisher configured")
	return p
}

// Close releases the Redis client, the bucket client and flushes the event
// publisher.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error().Err(err).Msg("failed to close engine resource")
		}
	}
	e.closers = nil
}

// Migrate applies pending migrations from cfg.MigrationPath, or from the
// embedded set when no path is configured.
func Migrate(db *database.DB, cfg config.DatabaseConfig, logger zerolog.Logger) error {
	migrator, err := NewMigrator(db, cfg.MigrationPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// NewMigrator opens a migrator over path, or over the embedded migrations
// when path is empty.
func NewMigrator(db *database.DB, path string, logger zerolog.Logger) (*database.Migrator, error) {
	var (
		migrator *database.Migrator
		err      error
	)
	if path != "" {
		migrator, err = database.NewMigrator(db, path, logger)
	} else {
		migrator, err = database.NewEmbeddedMigrator(db, migrations.FS, ".", logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
