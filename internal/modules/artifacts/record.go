// Package artifacts persists the results of rebalance cycles.
package artifacts

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/rebalancing"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a cycle does not exist.
var ErrNotFound = errors.New("cycle not found")

// Status is the outcome of a cycle.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StrategyStatus is the outcome of one strategy within a cycle.
type StrategyStatus string

const (
	StrategyEvaluated StrategyStatus = "evaluated"
	StrategyFailed    StrategyStatus = "failed"
)

// StrategyRecord is what one strategy produced in a cycle.
type StrategyRecord struct {
	StrategyID  string                `json:"strategy_id"`
	Weight      decimal.Decimal       `json:"weight"`
	Status      StrategyStatus        `json:"status"`
	FailureKind string                `json:"failure_kind,omitempty"`
	Failure     string                `json:"failure,omitempty"`
	Allocation  allocation.Allocation `json:"allocation"`
}

// CycleRecord is the full record of one cycle.
type CycleRecord struct {
	ID          string                `json:"id"`
	AsOf        time.Time             `json:"as_of"`
	Status      Status                `json:"status"`
	Policy      string                `json:"policy"`
	FailureKind string                `json:"failure_kind,omitempty"`
	Failure     string                `json:"failure,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Strategies  []StrategyRecord      `json:"strategies"`
	Target      allocation.Allocation `json:"target"`
	Plan        *rebalancing.Plan     `json:"plan,omitempty"`
}

// Excluded returns the ids of strategies that failed in a completed cycle.
func (c *CycleRecord) Excluded() []string {
	if c.Status != StatusCompleted {
		return nil
	}
	var ids []string
	for _, s := range c.Strategies {
		if s.Status == StrategyFailed {
			ids = append(ids, s.StrategyID)
		}
	}
	return ids
}

// Payloads are msgpack with decimals carried as strings so they decode to
// exactly the value that was stored.

type wireEntry struct {
	Symbol string `msgpack:"symbol"`
	Weight string `msgpack:"weight"`
}

type wireTrade struct {
	Symbol        string `msgpack:"symbol"`
	Side          string `msgpack:"side"`
	TargetWeight  string `msgpack:"target_weight"`
	CurrentWeight string `msgpack:"current_weight"`
	Delta         string `msgpack:"delta"`
	Value         string `msgpack:"value"`
	FullExit      bool   `msgpack:"full_exit"`
}

type wirePlan struct {
	Items      []wireTrade `msgpack:"items"`
	TotalValue string      `msgpack:"total_value"`
	Threshold  string      `msgpack:"threshold"`
}

func encodeAllocation(a allocation.Allocation) ([]byte, error) {
	entries := a.Entries()
	wire := make([]wireEntry, len(entries))
	for i, e := range entries {
		wire[i] = wireEntry{Symbol: e.Symbol, Weight: e.Weight.String()}
	}
	return msgpack.Marshal(wire)
}

func decodeAllocation(data []byte) (allocation.Allocation, error) {
	if len(data) == 0 {
		return allocation.Allocation{}, nil
	}
	var wire []wireEntry
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return allocation.Allocation{}, fmt.Errorf("failed to decode allocation: %w", err)
	}
	b := allocation.NewBuilder()
	for _, e := range wire {
		w, err := decimal.NewFromString(e.Weight)
		if err != nil {
			return allocation.Allocation{}, fmt.Errorf("invalid weight for %s: %w", e.Symbol, err)
		}
		b.Add(e.Symbol, w)
	}
	return b.Build(), nil
}

func encodePlan(p *rebalancing.Plan) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	wire := wirePlan{
		Items:      make([]wireTrade, len(p.Items)),
		TotalValue: p.TotalValue.String(),
		Threshold:  p.Threshold.String(),
	}
	for i, it := range p.Items {
		wire.Items[i] = wireTrade{
			Symbol:        it.Symbol,
			Side:          string(it.Side),
			TargetWeight:  it.TargetWeight.String(),
			CurrentWeight: it.CurrentWeight.String(),
			Delta:         it.Delta.String(),
			Value:         it.Value.String(),
			FullExit:      it.FullExit,
		}
	}
	return msgpack.Marshal(&wire)
}

func decodePlan(data []byte) (*rebalancing.Plan, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wire wirePlan
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	var firstErr error
	parse := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid decimal %q in plan: %w", s, err)
		}
		return d
	}

	plan := &rebalancing.Plan{
		Items:      make([]rebalancing.TradeItem, len(wire.Items)),
		TotalValue: parse(wire.TotalValue),
		Threshold:  parse(wire.Threshold),
	}
	for i, it := range wire.Items {
		plan.Items[i] = rebalancing.TradeItem{
			Symbol:        it.Symbol,
			Side:          rebalancing.Side(it.Side),
			TargetWeight:  parse(it.TargetWeight),
			CurrentWeight: parse(it.CurrentWeight),
			Delta:         parse(it.Delta),
			Value:         parse(it.Value),
			FullExit:      it.FullExit,
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return plan, nil
}
