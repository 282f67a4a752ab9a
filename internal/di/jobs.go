package di

import (
	"fmt"

	"github.com/aristath/symphony/internal/config"
	"github.com/aristath/symphony/internal/reliability"
	"github.com/aristath/symphony/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs adds the background jobs to the container's scheduler.
// An empty schedule leaves that job registered for manual runs only.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}

	// Rebalance cycle
	rebalance := scheduler.NewRebalanceJob(container.Runner, cfg.CycleTimeout)
	rebalance.SetLogger(log)
	instances.Rebalance = rebalance
	if err := schedule(container.Scheduler, cfg.CycleSchedule, rebalance); err != nil {
		return nil, err
	}

	// Database maintenance
	maintenance := reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log)
	instances.Maintenance = maintenance
	if err := schedule(container.Scheduler, cfg.MaintSchedule, maintenance); err != nil {
		return nil, err
	}

	// Backups need somewhere to go
	if container.Archive != nil {
		backup := reliability.NewBackupJob(container.Archive, cfg.Archive.RetentionDays, log)
		instances.Backup = backup
		if err := schedule(container.Scheduler, cfg.BackupSchedule, backup); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(container.Scheduler.Jobs())).Msg("Jobs registered")
	return instances, nil
}

func schedule(s *scheduler.Scheduler, spec string, job scheduler.Job) error {
	if spec == "" {
		return nil
	}
	if err := s.AddJob(spec, job); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
	}
	return nil
}
