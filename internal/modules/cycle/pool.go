// Package cycle runs rebalance cycles: every strategy is evaluated
// concurrently, the results meet at a barrier, and only then are they
// aggregated into a target allocation and a trade plan.
package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/strategies"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Evaluator resolves one expression tree at a point in time. Each call must
// use its own indicator memo.
type Evaluator interface {
	Evaluate(ctx context.Context, root dsl.Node, asOf time.Time) (allocation.Allocation, error)
}

// StrategyResult is the outcome of evaluating one strategy.
type StrategyResult struct {
	StrategyID string
	Weight     decimal.Decimal
	Allocation allocation.Allocation
	Err        error
	Duration   time.Duration
}

// WorkerPool evaluates strategies on a bounded number of goroutines.
type WorkerPool struct {
	evaluator  Evaluator
	numWorkers int
	log        zerolog.Logger
}

// NewWorkerPool creates a pool. numWorkers <= 0 selects DefaultWorkers.
func NewWorkerPool(evaluator Evaluator, numWorkers int, log zerolog.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	return &WorkerPool{
		evaluator:  evaluator,
		numWorkers: numWorkers,
		log:        log.With().Str("component", "worker_pool").Logger(),
	}
}

// Workers returns the pool size.
func (p *WorkerPool) Workers() int {
	return p.numWorkers
}

type job struct {
	index    int
	strategy *strategies.Strategy
}

// EvaluateAll evaluates every strategy at asOf and returns the results in
// input order. onResult, when set, is called from the worker goroutines as
// each result completes. Strategies that failed to parse are reported with
// their parse error without being evaluated.
func (p *WorkerPool) EvaluateAll(ctx context.Context, list []*strategies.Strategy, asOf time.Time, onResult func(StrategyResult)) []StrategyResult {
	results := make([]StrategyResult, len(list))
	if len(list) == 0 {
		return results
	}

	jobs := make(chan job, len(list))
	for i, s := range list {
		jobs <- job{index: i, strategy: s}
	}
	close(jobs)

	workers := p.numWorkers
	if len(list) < workers {
		workers = len(list)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := p.evaluate(ctx, j.strategy, asOf)
				results[j.index] = res
				if onResult != nil {
					onResult(res)
				}
			}
		}()
	}
	wg.Wait()

	return results
}

func (p *WorkerPool) evaluate(ctx context.Context, s *strategies.Strategy, asOf time.Time) (res StrategyResult) {
	res = StrategyResult{StrategyID: s.ID, Weight: s.Weight}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("strategy", s.ID).Msg("Strategy evaluation panicked")
			res.Allocation = allocation.Allocation{}
			res.Err = fmt.Errorf("strategy %s panicked: %v", s.ID, r)
		}
		res.Duration = time.Since(start)
	}()

	switch {
	case s.ParseErr != nil:
		res.Err = s.ParseErr
	case s.Symphony == nil:
		res.Err = fmt.Errorf("strategy %s has no symphony", s.ID)
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	default:
		res.Allocation, res.Err = p.evaluator.Evaluate(ctx, s.Symphony.Root, asOf)
	}
	return res
}
