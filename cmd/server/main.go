// Package main is the entry point for the symphony service. It evaluates the
// configured strategy roster on a schedule, aggregates the strategies into
// one target allocation, plans the trades that reach it and serves the
// results over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aristath/symphony/internal/config"
	"github.com/aristath/symphony/internal/di"
	"github.com/aristath/symphony/internal/scheduler"
	"github.com/aristath/symphony/internal/server"
	"github.com/aristath/symphony/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("policy", string(cfg.FailurePolicy)).
		Str("threshold", cfg.Threshold.String()).
		Msg("Starting symphony")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Databases, market data, cycle runner and jobs
	container, jobs, err := di.Wire(ctx, cfg, reg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	triggerable := []scheduler.Job{jobs.Rebalance, jobs.Maintenance}
	if jobs.Backup != nil {
		triggerable = append(triggerable, jobs.Backup)
	}

	srv := server.New(server.Config{
		Log:        log,
		Port:       cfg.Port,
		DevMode:    cfg.DevMode,
		DataDir:    cfg.DataDir,
		Runner:     container.Runner,
		Strategies: container.Strategies,
		Holdings:   container.Holdings,
		Planner:    container.Planner,
		Cycles:     container.Cycles,
		Importer:   container.Importer,
		Coverage:   container.History,
		Databases:  container.Databases(),
		Metrics:    container.Metrics,
		Scheduler:  container.Scheduler,
		Jobs:       triggerable,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	container.Scheduler.Start()
	log.Info().Int("port", cfg.Port).Int("jobs", len(container.Scheduler.Jobs())).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	// Waits for a running cycle to finish persisting
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
