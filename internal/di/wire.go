package di

import (
	"context"
	"fmt"

	"github.com/aristath/symphony/internal/config"
	"github.com/aristath/symphony/internal/events"
	"github.com/aristath/symphony/internal/metrics"
	"github.com/aristath/symphony/internal/modules/artifacts"
	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/aristath/symphony/internal/modules/evaluation"
	"github.com/aristath/symphony/internal/modules/marketdata"
	"github.com/aristath/symphony/internal/modules/portfolio"
	"github.com/aristath/symphony/internal/modules/rebalancing"
	"github.com/aristath/symphony/internal/modules/strategies"
	"github.com/aristath/symphony/internal/reliability"
	"github.com/aristath/symphony/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a configured container.
// Order of operations:
// 1. Open databases
// 2. Build market data, cycle and reliability services
// 3. Register scheduled jobs
//
// reg may be nil, in which case metrics get a private registry.
func Wire(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(ctx, container, cfg, reg, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	jobs, err := RegisterJobs(container, cfg, log)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, jobs, nil
}

// InitializeServices builds every service on top of opened databases.
// Redis and object storage are optional: when configured but unreachable
// the service starts without them and logs a warning.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, reg *prometheus.Registry, log zerolog.Logger) error {
	container.Metrics = metrics.New(reg)
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Market data
	container.History = marketdata.NewHistoryRepository(container.HistoryDB.Conn(), log)
	container.Bars = container.History
	var invalidator marketdata.Invalidator
	if cfg.RedisAddr != "" {
		cache, err := marketdata.NewRedisCache(marketdata.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.BarCacheTTL,
		}, container.History, container.Metrics.BarCacheRequests, log)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Bar cache unavailable, reading history directly")
		} else {
			container.BarCache = cache
			container.Bars = cache
			invalidator = cache
		}
	}
	container.Importer = marketdata.NewImporter(container.History, invalidator, container.EventManager, container.Metrics.BarsImported, log)

	// Strategies and holdings
	container.Strategies = strategies.NewFileSource(cfg.StrategiesFile, log)
	container.Holdings = portfolio.NewFileProvider(cfg.HoldingsFile, log)

	// Evaluation and planning
	container.Evaluator = evaluation.NewEvaluator(container.Bars, log)
	container.Pool = cycle.NewWorkerPool(container.Evaluator, cfg.Workers, log)
	container.Planner = rebalancing.NewPlanner(log)
	container.Cycles = artifacts.NewSQLiteRepository(container.ArtifactsDB.Conn(), log)

	// Archive
	var archiver cycle.Archiver
	if cfg.Archive.Enabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			log.Warn().Err(err).Str("bucket", cfg.Archive.Bucket).Msg("Archive storage unavailable, cycles will not be archived")
		} else {
			container.Archive = reliability.NewArchiveService(store, container.Databases(), cfg.DataDir, cfg.Archive.Prefix, log)
			archiver = container.Archive
		}
	}

	container.Runner = cycle.NewRunner(cycle.Deps{
		Roster:     container.Strategies,
		Pool:       container.Pool,
		Holdings:   container.Holdings,
		Planner:    container.Planner,
		Repository: container.Cycles,
		Archiver:   archiver,
		Events:     container.EventManager,
		Metrics:    container.Metrics,
	}, cycle.Config{
		Policy:      cfg.FailurePolicy,
		Threshold:   cfg.Threshold,
		CashReserve: cfg.CashReserve,
	}, log)

	container.Scheduler = scheduler.New(log)
	return nil
}
