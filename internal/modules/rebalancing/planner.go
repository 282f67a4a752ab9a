// Package rebalancing converts a target allocation into an ordered trade plan.
package rebalancing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultThreshold is the minimum absolute weight change that produces a trade.
var DefaultThreshold = decimal.RequireFromString("0.01")

// ErrInvalidInput is wrapped by every input validation failure of Plan.
var ErrInvalidInput = errors.New("invalid rebalance input")

// Side is the direction of a planned trade.
type Side string

const (
	SideSell Side = "SELL"
	SideBuy  Side = "BUY"
)

// TradeItem is one planned weight adjustment.
type TradeItem struct {
	Symbol        string          `json:"symbol" msgpack:"symbol"`
	Side          Side            `json:"side" msgpack:"side"`
	TargetWeight  decimal.Decimal `json:"target_weight" msgpack:"target_weight"`
	CurrentWeight decimal.Decimal `json:"current_weight" msgpack:"current_weight"`
	Delta         decimal.Decimal `json:"delta" msgpack:"delta"`
	// Value is Delta times the portfolio value: negative for sells.
	Value    decimal.Decimal `json:"value" msgpack:"value"`
	FullExit bool            `json:"full_exit" msgpack:"full_exit"`
}

// Plan is an ordered list of trades. Every sell precedes every buy.
type Plan struct {
	Items      []TradeItem     `json:"items" msgpack:"items"`
	TotalValue decimal.Decimal `json:"total_value" msgpack:"total_value"`
	Threshold  decimal.Decimal `json:"threshold" msgpack:"threshold"`
}

// Sells returns the sell items in execution order.
func (p *Plan) Sells() []TradeItem {
	return p.bySide(SideSell)
}

// Buys returns the buy items in execution order.
func (p *Plan) Buys() []TradeItem {
	return p.bySide(SideBuy)
}

func (p *Plan) bySide(side Side) []TradeItem {
	var out []TradeItem
	for _, item := range p.Items {
		if item.Side == side {
			out = append(out, item)
		}
	}
	return out
}

// NetValue returns the signed sum of trade values. It is close to zero for a
// fully invested target and positive cash need when buys exceed sells.
func (p *Plan) NetValue() decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.Items {
		total = total.Add(item.Value)
	}
	return total
}

// Turnover returns the total absolute weight traded.
func (p *Plan) Turnover() decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.Items {
		total = total.Add(item.Delta.Abs())
	}
	return total
}

// IsEmpty reports whether the plan contains no trades.
func (p *Plan) IsEmpty() bool {
	return len(p.Items) == 0
}

// Planner diffs target allocations against holdings.
type Planner struct {
	log zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(log zerolog.Logger) *Planner {
	return &Planner{log: log.With().Str("service", "rebalance_planner").Logger()}
}

// PlanFor plans against a holdings snapshot, using its total value.
func (p *Planner) PlanFor(target allocation.Allocation, holdings domain.Holdings, threshold decimal.Decimal) (*Plan, error) {
	return p.Plan(target, holdings.Weights, holdings.TotalValue, threshold)
}

// Plan produces the trade plan that moves current holdings to target.
//
// Args:
//
//	target: desired weights; cash reserve is applied by the caller beforehand
//	current: held weights by symbol
//	totalValue: portfolio value the weights are fractions of
//	threshold: minimum |delta| for a trade, DefaultThreshold if unsure
//
// Returns:
//
//	Sells then buys, each ordered by |delta| descending and then by symbol.
//	A held symbol absent from target is always sold in full, whatever the
//	threshold.
func (p *Planner) Plan(target allocation.Allocation, current map[string]decimal.Decimal, totalValue, threshold decimal.Decimal) (*Plan, error) {
	if threshold.IsNegative() {
		return nil, fmt.Errorf("%w: negative threshold %s", ErrInvalidInput, threshold)
	}
	if totalValue.IsNegative() {
		return nil, fmt.Errorf("%w: negative total value %s", ErrInvalidInput, totalValue)
	}
	for symbol, w := range current {
		if w.IsNegative() {
			return nil, fmt.Errorf("%w: negative holding weight %s for %s", ErrInvalidInput, w, symbol)
		}
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, s := range target.Symbols() {
		seen[s] = true
		symbols = append(symbols, s)
	}
	for s := range current {
		if !seen[s] {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	var sells, buys []TradeItem
	for _, symbol := range symbols {
		targetWeight := target.Weight(symbol)
		currentWeight := current[symbol]
		delta := targetWeight.Sub(currentWeight)

		fullExit := targetWeight.IsZero() && currentWeight.IsPositive()
		if !fullExit && delta.Abs().LessThanOrEqual(threshold) {
			continue
		}

		item := TradeItem{
			Symbol:        symbol,
			TargetWeight:  targetWeight,
			CurrentWeight: currentWeight,
			Delta:         delta,
			Value:         delta.Mul(totalValue),
			FullExit:      fullExit,
		}
		if delta.IsNegative() {
			item.Side = SideSell
			sells = append(sells, item)
		} else {
			item.Side = SideBuy
			buys = append(buys, item)
		}
	}

	byImpact(sells)
	byImpact(buys)

	plan := &Plan{
		Items:      append(sells, buys...),
		TotalValue: totalValue,
		Threshold:  threshold,
	}

	p.log.Debug().
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Str("net_value", plan.NetValue().String()).
		Msg("Rebalance plan generated")
	return plan, nil
}

// byImpact orders items by |delta| descending, ties by symbol.
func byImpact(items []TradeItem) {
	sort.Slice(items, func(i, j int) bool {
		if c := items[i].Delta.Abs().Cmp(items[j].Delta.Abs()); c != 0 {
			return c > 0
		}
		return items[i].Symbol < items[j].Symbol
	})
}
