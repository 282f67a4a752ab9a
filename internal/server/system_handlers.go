package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/modules/artifacts"
	"github.com/aristath/symphony/internal/scheduler"
)

// SystemHandlers serves host, database and job status.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases map[string]*database.DB
	scheduler *scheduler.Scheduler
	jobs      map[string]scheduler.Job
	cycles    artifacts.Repository
}

// NewSystemHandlers creates system handlers. jobs are the jobs that may be
// triggered by name, scheduled or not.
func NewSystemHandlers(
	dataDir string,
	databases map[string]*database.DB,
	sched *scheduler.Scheduler,
	jobs []scheduler.Job,
	cycles artifacts.Repository,
	log zerolog.Logger,
) *SystemHandlers {
	byName := make(map[string]scheduler.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name()] = j
	}
	return &SystemHandlers{
		log:       log.With().Str("service", "system_handlers").Logger(),
		dataDir:   dataDir,
		databases: databases,
		scheduler: sched,
		jobs:      byName,
		cycles:    cycles,
	}
}

// DatabaseStatus is the health and size of one database.
type DatabaseStatus struct {
	Healthy bool            `json:"healthy"`
	Error   string          `json:"error,omitempty"`
	Stats   *database.Stats `json:"stats,omitempty"`
}

// CycleSummary is the short form of the latest cycle.
type CycleSummary struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	AsOf        time.Time `json:"as_of"`
	FinishedAt  time.Time `json:"finished_at"`
	FailureKind string    `json:"failure_kind,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status.
type SystemStatusResponse struct {
	Status        string                    `json:"status"`
	CPUPercent    float64                   `json:"cpu_percent"`
	MemoryPercent float64                   `json:"memory_percent"`
	DiskFreeBytes uint64                    `json:"disk_free_bytes"`
	DiskPercent   float64                   `json:"disk_used_percent"`
	Databases     map[string]DatabaseStatus `json:"databases"`
	Jobs          []scheduler.JobInfo       `json:"jobs"`
	LatestCycle   *CycleSummary             `json:"latest_cycle,omitempty"`
}

// Snapshot collects the current status. Any unhealthy database marks the
// whole service degraded; host metrics that cannot be read are left at zero.
func (h *SystemHandlers) Snapshot(ctx context.Context) SystemStatusResponse {
	resp := SystemStatusResponse{
		Status:    "healthy",
		Databases: make(map[string]DatabaseStatus, len(h.databases)),
		Jobs:      []scheduler.JobInfo{},
	}

	resp.CPUPercent, resp.MemoryPercent = h.hostStats(ctx)
	if usage, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		resp.DiskFreeBytes = usage.Free
		resp.DiskPercent = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Str("path", h.dataDir).Msg("Failed to read disk usage")
	}

	for name, db := range h.databases {
		status := DatabaseStatus{Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			resp.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			status.Stats = stats
		}
		resp.Databases[name] = status
	}

	if h.scheduler != nil {
		resp.Jobs = h.scheduler.Jobs()
	}

	if h.cycles != nil {
		latest, err := h.cycles.LatestCycle(ctx)
		switch {
		case err == nil:
			resp.LatestCycle = &CycleSummary{
				ID:          latest.ID,
				Status:      string(latest.Status),
				AsOf:        latest.AsOf,
				FinishedAt:  latest.FinishedAt,
				FailureKind: latest.FailureKind,
			}
		case !errors.Is(err, artifacts.ErrNotFound):
			h.log.Warn().Err(err).Msg("Failed to load latest cycle")
		}
	}
	return resp
}

// hostStats samples CPU over a short interval so the endpoint stays fast.
func (h *SystemHandlers) hostStats(ctx context.Context) (float64, float64) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}

// HandleSystemStatus returns host, database, job and cycle status.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot(r.Context()), h.log)
}

// JobStatus describes a job that can be triggered.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule,omitempty"`
	Next     *time.Time `json:"next,omitempty"`
}

// HandleJobs lists triggerable jobs with their schedules.
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	scheduled := make(map[string]scheduler.JobInfo)
	if h.scheduler != nil {
		for _, info := range h.scheduler.Jobs() {
			scheduled[info.Name] = info
		}
	}

	out := make([]JobStatus, 0, len(h.jobs))
	for name := range h.jobs {
		status := JobStatus{Name: name}
		if info, ok := scheduled[name]; ok {
			status.Schedule = info.Schedule
			if !info.Next.IsZero() {
				next := info.Next
				status.Next = &next
			}
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out, h.log)
}

// HandleRunJob runs a job by name and waits for it.
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", name), h.log)
		return
	}

	start := time.Now()
	var err error
	if h.scheduler != nil {
		err = h.scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeError(w, http.StatusInternalServerError, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	}, h.log)
}
