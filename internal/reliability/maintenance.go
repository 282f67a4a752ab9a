package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/symphony/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultMinFreeBytes halts maintenance when the data volume has less free space.
const DefaultMinFreeBytes uint64 = 500 << 20

// MaintenanceJob checks database health, truncates WAL files and watches
// free disk space.
type MaintenanceJob struct {
	databases    map[string]*database.DB
	dataDir      string
	minFreeBytes uint64
	timeout      time.Duration
	log          zerolog.Logger
}

// NewMaintenanceJob creates the job.
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases:    databases,
		dataDir:      dataDir,
		minFreeBytes: DefaultMinFreeBytes,
		timeout:      5 * time.Minute,
		log:          log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the job. A failed integrity check or a nearly full disk is an
// error; a failed checkpoint is only logged.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	start := time.Now()

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Database health check failed")
			return err
		}
		if err := db.WALCheckpoint(); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", j.dataDir, err)
	}
	if usage.Free < j.minFreeBytes {
		j.log.Error().Uint64("free_bytes", usage.Free).Msg("Insufficient disk space")
		return fmt.Errorf("only %d bytes free on %s", usage.Free, j.dataDir)
	}
	if usage.UsedPercent > 90 {
		j.log.Warn().Float64("used_percent", usage.UsedPercent).Msg("Disk space running low")
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Int("databases", len(names)).Msg("Maintenance completed")
	return nil
}

// BackupJob uploads a database backup and prunes old ones.
type BackupJob struct {
	archive       *ArchiveService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBackupJob creates the job.
func NewBackupJob(archive *ArchiveService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		archive:       archive,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *BackupJob) Name() string {
	return "database_backup"
}

// Run backs up then rotates. Rotation failures are logged, not returned.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.archive.BackupDatabases(ctx); err != nil {
		return err
	}
	if _, err := j.archive.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
