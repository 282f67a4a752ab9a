package scheduler

import (
	"context"
	"time"

	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/rs/zerolog"
)

// CycleRunner runs one rebalance cycle.
type CycleRunner interface {
	Run(ctx context.Context, asOf time.Time) (*cycle.Result, error)
}

// RebalanceJob runs a cycle as of the moment it fires.
type RebalanceJob struct {
	log     zerolog.Logger
	runner  CycleRunner
	timeout time.Duration
	clock   func() time.Time
}

// NewRebalanceJob creates the job. timeout <= 0 means ten minutes.
func NewRebalanceJob(runner CycleRunner, timeout time.Duration) *RebalanceJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &RebalanceJob{
		log:     zerolog.Nop(),
		runner:  runner,
		timeout: timeout,
		clock:   time.Now,
	}
}

// SetLogger sets the logger for the job
func (j *RebalanceJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance_cycle"
}

// Run executes one cycle. A cycle already in progress is not an error.
func (j *RebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	res, err := j.runner.Run(ctx, j.clock().UTC())
	if err == cycle.ErrCycleInProgress {
		j.log.Info().Msg("Cycle already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().
		Str("cycle_id", res.ID).
		Int("trades", len(res.Plan.Items)).
		Msg("Scheduled cycle completed")
	return nil
}
