package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/events"
	"github.com/aristath/symphony/internal/metrics"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/artifacts"
	"github.com/aristath/symphony/internal/modules/evaluation"
	"github.com/aristath/symphony/internal/modules/rebalancing"
	"github.com/aristath/symphony/internal/modules/strategies"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const eventModule = "cycle"

var (
	// ErrCycleInProgress is returned when Run is called while another cycle runs.
	ErrCycleInProgress = errors.New("a cycle is already running")
	// ErrStrategyNotFound is returned for an id missing from the roster.
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Archiver copies a finished cycle somewhere durable.
type Archiver interface {
	ArchiveCycle(ctx context.Context, record *artifacts.CycleRecord) (string, error)
}

// Config holds the cycle settings.
type Config struct {
	Policy      allocation.FailurePolicy
	Threshold   decimal.Decimal
	CashReserve decimal.Decimal
}

// Deps are the collaborators of a Runner. Archiver, Events and Metrics are
// optional.
type Deps struct {
	Roster     strategies.Source
	Pool       *WorkerPool
	Holdings   domain.HoldingsProvider
	Planner    *rebalancing.Planner
	Repository artifacts.Repository
	Archiver   Archiver
	Events     *events.Manager
	Metrics    *metrics.Metrics
}

// Result is everything a cycle produced. Fields after the failed step are
// left empty.
type Result struct {
	ID         string
	AsOf       time.Time
	Policy     allocation.FailurePolicy
	StartedAt  time.Time
	FinishedAt time.Time
	Strategies []StrategyResult
	Outcome    *allocation.Outcome
	Target     allocation.Allocation
	Holdings   domain.Holdings
	Plan       *rebalancing.Plan
	Err        error
}

// Succeeded reports whether the cycle produced a plan.
func (r *Result) Succeeded() bool {
	return r.Err == nil && r.Plan != nil
}

// Runner executes cycles one at a time.
type Runner struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	mu   sync.Mutex
	now  func() time.Time
}

// NewRunner creates a runner. A zero threshold selects the planner default;
// an empty policy selects abort.
func NewRunner(deps Deps, cfg Config, log zerolog.Logger) *Runner {
	if cfg.Policy == "" {
		cfg.Policy = allocation.PolicyAbort
	}
	if cfg.Threshold.IsZero() {
		cfg.Threshold = rebalancing.DefaultThreshold
	}
	return &Runner{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("service", "cycle_runner").Logger(),
		now:  time.Now,
	}
}

// Config returns the runner's settings.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes one cycle at asOf: load the roster, evaluate every strategy
// concurrently, wait for all of them, apply the failure policy, aggregate,
// reserve cash and plan against the current holdings. The cycle is
// persisted whether it succeeds or fails.
//
// The returned Result is non-nil whenever a cycle was started, including on
// failure, so callers can report its id. If ctx is cancelled mid-cycle, the
// strategy results are discarded and nothing is aggregated.
func (r *Runner) Run(ctx context.Context, asOf time.Time) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer r.mu.Unlock()

	res := &Result{ID: uuid.NewString(), AsOf: asOf, Policy: r.cfg.Policy, StartedAt: r.now()}
	log := r.log.With().Str("cycle_id", res.ID).Time("as_of", asOf).Logger()
	log.Info().Msg("Starting cycle")

	res.Err = r.execute(ctx, res, log)
	res.FinishedAt = r.now()

	r.finish(ctx, res, log)
	return res, res.Err
}

func (r *Runner) execute(ctx context.Context, res *Result, log zerolog.Logger) error {
	roster, err := r.deps.Roster.Roster(ctx)
	if err != nil {
		return fmt.Errorf("failed to load strategies: %w", err)
	}

	session := NewSession(roster.IDs())
	r.deps.Pool.EvaluateAll(ctx, roster.All(), res.AsOf, func(sr StrategyResult) {
		if err := session.Record(sr); err != nil {
			log.Error().Err(err).Str("strategy", sr.StrategyID).Msg("Rejected strategy result")
			return
		}
		r.reportStrategy(res.ID, sr, log)
	})

	if err := ctx.Err(); err != nil {
		log.Warn().Int("pending", session.Pending()).Msg("Cycle cancelled, discarding strategy results")
		return err
	}
	if err := session.Wait(ctx); err != nil {
		return err
	}
	results, err := session.Results()
	if err != nil {
		return err
	}
	res.Strategies = results

	outcomes := make([]allocation.StrategyOutcome, len(results))
	for i, sr := range results {
		outcomes[i] = allocation.StrategyOutcome{StrategyID: sr.StrategyID, Weight: sr.Weight, Allocation: sr.Allocation, Err: sr.Err}
	}
	outcome, err := allocation.Resolve(r.cfg.Policy, outcomes)
	if err != nil {
		return err
	}
	res.Outcome = outcome
	if len(outcome.Excluded) > 0 {
		ids := make([]string, len(outcome.Excluded))
		for i, f := range outcome.Excluded {
			ids[i] = f.StrategyID
		}
		log.Warn().Strs("excluded", ids).Msg("Continuing without failed strategies")
		r.emit(&events.StrategiesExcludedData{
			CycleID:      res.ID,
			Policy:       string(outcome.Policy),
			StrategyIDs:  ids,
			Renormalised: outcome.Renormalised,
		})
		if r.deps.Metrics != nil {
			r.deps.Metrics.StrategiesExcluded.Add(float64(len(ids)))
		}
	}

	aggregate, err := allocation.Aggregate(outcome.Contributions)
	if err != nil {
		return err
	}
	target, err := allocation.ApplyCashReserve(aggregate, r.cfg.CashReserve)
	if err != nil {
		return err
	}
	res.Target = target
	r.emit(&events.AllocationAggregatedData{
		CycleID:     res.ID,
		Strategies:  len(outcome.Contributions),
		Weights:     weightStrings(target),
		CashReserve: r.cfg.CashReserve.String(),
	})

	holdings, err := r.deps.Holdings.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}
	res.Holdings = holdings

	plan, err := r.deps.Planner.PlanFor(target, holdings, r.cfg.Threshold)
	if err != nil {
		return err
	}
	res.Plan = plan
	r.emit(&events.PlanGeneratedData{
		CycleID:  res.ID,
		Sells:    len(plan.Sells()),
		Buys:     len(plan.Buys()),
		NetValue: plan.NetValue().String(),
		Turnover: plan.Turnover().String(),
	})
	if r.deps.Metrics != nil {
		turnover, _ := plan.Turnover().Float64()
		r.deps.Metrics.ObservePlan(len(plan.Sells()), len(plan.Buys()), turnover)
	}
	return nil
}

// EvaluateStrategy evaluates a single roster strategy at asOf outside of a
// cycle. Evaluation failures are reported in the result's Err; the returned
// error covers only roster problems.
func (r *Runner) EvaluateStrategy(ctx context.Context, id string, asOf time.Time) (StrategyResult, error) {
	roster, err := r.deps.Roster.Roster(ctx)
	if err != nil {
		return StrategyResult{}, fmt.Errorf("failed to load strategies: %w", err)
	}
	s, ok := roster.Get(id)
	if !ok {
		return StrategyResult{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return r.deps.Pool.evaluate(ctx, s, asOf), nil
}

func (r *Runner) reportStrategy(cycleID string, sr StrategyResult, log zerolog.Logger) {
	result := "ok"
	if sr.Err != nil {
		info := evaluation.Describe(sr.Err)
		result = info.Kind
		log.Warn().Err(sr.Err).Str("strategy", sr.StrategyID).Str("kind", info.Kind).Msg("Strategy failed")
		r.emit(&events.StrategyFailedData{
			CycleID:    cycleID,
			StrategyID: sr.StrategyID,
			Kind:       info.Kind,
			Error:      info.Message,
			Symbol:     info.Symbol,
			Indicator:  info.Indicator,
			Window:     info.Window,
		})
	} else {
		r.emit(&events.StrategyEvaluatedData{
			CycleID:    cycleID,
			StrategyID: sr.StrategyID,
			Weights:    weightStrings(sr.Allocation),
			DurationMs: sr.Duration.Milliseconds(),
		})
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveStrategy(sr.StrategyID, result, sr.Duration)
	}
}

// finish persists, archives, reports and records metrics for a cycle.
// Persistence uses a context that outlives cancellation of the cycle.
func (r *Runner) finish(ctx context.Context, res *Result, log zerolog.Logger) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	record := Record(res)
	if r.deps.Repository != nil {
		if err := r.deps.Repository.SaveCycle(persistCtx, record); err != nil {
			log.Error().Err(err).Msg("Failed to save cycle")
		}
	}
	if r.deps.Archiver != nil {
		if _, err := r.deps.Archiver.ArchiveCycle(persistCtx, record); err != nil {
			log.Warn().Err(err).Msg("Failed to archive cycle")
		}
	}

	duration := res.FinishedAt.Sub(res.StartedAt)
	status := string(record.Status)
	if res.Err != nil {
		log.Error().Err(res.Err).Str("kind", record.FailureKind).Msg("Cycle failed")
		r.emit(&events.CycleFailedData{CycleID: res.ID, AsOf: res.AsOf, Kind: record.FailureKind, Error: res.Err.Error()})
	} else {
		excluded := len(res.Outcome.Excluded)
		log.Info().
			Int("strategies", len(res.Strategies)).
			Int("excluded", excluded).
			Int("trades", len(res.Plan.Items)).
			Dur("duration", duration).
			Msg("Cycle completed")
		r.emit(&events.CycleCompletedData{
			CycleID:    res.ID,
			AsOf:       res.AsOf,
			Evaluated:  len(res.Strategies) - excluded,
			Excluded:   excluded,
			Trades:     len(res.Plan.Items),
			DurationMs: duration.Milliseconds(),
		})
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveCycle(status, duration, res.FinishedAt)
	}
}

func (r *Runner) emit(data events.EventData) {
	if r.deps.Events != nil {
		r.deps.Events.Emit(eventModule, data)
	}
}

// Record converts a cycle result into its stored form.
func Record(res *Result) *artifacts.CycleRecord {
	record := &artifacts.CycleRecord{
		ID:         res.ID,
		AsOf:       res.AsOf,
		Status:     artifacts.StatusCompleted,
		Policy:     string(res.Policy),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Target:     res.Target,
		Plan:       res.Plan,
	}
	if res.Err != nil {
		record.Status = artifacts.StatusFailed
		record.FailureKind = evaluation.Classify(res.Err)
		record.Failure = res.Err.Error()
	}
	for _, sr := range res.Strategies {
		sRec := artifacts.StrategyRecord{
			StrategyID: sr.StrategyID,
			Weight:     sr.Weight,
			Status:     artifacts.StrategyEvaluated,
			Allocation: sr.Allocation,
		}
		if sr.Err != nil {
			sRec.Status = artifacts.StrategyFailed
			sRec.FailureKind = evaluation.Classify(sr.Err)
			sRec.Failure = sr.Err.Error()
		}
		record.Strategies = append(record.Strategies, sRec)
	}
	return record
}

func weightStrings(a allocation.Allocation) map[string]string {
	out := make(map[string]string, a.Len())
	for _, e := range a.Entries() {
		out[e.Symbol] = e.Weight.String()
	}
	return out
}
