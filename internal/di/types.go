// Package di wires the service's dependencies into a Container.
package di

import (
	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/domain"
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
)

// Container holds every long-lived component of the service. It is built
// by Wire and handed to the HTTP server and the CLI.
type Container struct {
	// Databases
	HistoryDB   *database.DB // Daily bars
	ArtifactsDB *database.DB // Cycle records

	// Market data
	History   *marketdata.HistoryRepository
	BarCache  *marketdata.RedisCache // nil when Redis is not configured
	Bars      domain.BarProvider     // BarCache when present, History otherwise
	Importer  *marketdata.Importer

	// Cycle
	Strategies *strategies.FileSource
	Holdings   *portfolio.FileProvider
	Evaluator  *evaluation.Evaluator
	Pool       *cycle.WorkerPool
	Planner    *rebalancing.Planner
	Cycles     artifacts.Repository
	Runner     *cycle.Runner

	// Reliability
	Archive *reliability.ArchiveService // nil when no bucket is configured

	// Infrastructure
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Metrics
	Scheduler    *scheduler.Scheduler
}

// JobInstances keeps the scheduled jobs for manual triggering.
type JobInstances struct {
	Rebalance   *scheduler.RebalanceJob
	Maintenance *reliability.MaintenanceJob
	Backup      *reliability.BackupJob // nil without an archive
}

// Databases returns the open databases keyed by name.
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.HistoryDB != nil {
		dbs[c.HistoryDB.Name()] = c.HistoryDB
	}
	if c.ArtifactsDB != nil {
		dbs[c.ArtifactsDB.Name()] = c.ArtifactsDB
	}
	return dbs
}

// Close releases the cache client and the databases.
func (c *Container) Close() error {
	var firstErr error
	if c.BarCache != nil {
		if err := c.BarCache.Close(); err != nil {
			firstErr = err
		}
	}
	for _, db := range []*database.DB{c.HistoryDB, c.ArtifactsDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
