package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ConfigurationError reports an invalid strategy weight configuration.
type ConfigurationError struct {
	StrategyID string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.StrategyID == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for strategy %s: %s", e.StrategyID, e.Reason)
}

// Contribution is one strategy's allocation and its share of the portfolio.
type Contribution struct {
	StrategyID string
	Allocation Allocation
	Weight     decimal.Decimal
}

// ValidateWeights checks strategy weights are unique, non-negative and sum to one.
func ValidateWeights(contributions []Contribution) error {
	if len(contributions) == 0 {
		return &ConfigurationError{Reason: "no strategies to aggregate"}
	}

	seen := make(map[string]bool, len(contributions))
	total := decimal.Zero
	for _, c := range contributions {
		if seen[c.StrategyID] {
			return &ConfigurationError{StrategyID: c.StrategyID, Reason: "duplicate strategy id"}
		}
		seen[c.StrategyID] = true
		if c.Weight.IsNegative() {
			return &ConfigurationError{StrategyID: c.StrategyID, Reason: fmt.Sprintf("negative weight %s", c.Weight)}
		}
		total = total.Add(c.Weight)
	}
	if !SumsToOne(total) {
		return &ConfigurationError{Reason: fmt.Sprintf("strategy weights sum to %s, expected 1", total)}
	}
	return nil
}

// Aggregate merges strategy allocations in proportion to their weights.
//
// The weights must already sum to one; they are never normalised here. Each
// symbol's weight is the exact decimal sum of weight_i * allocation_i[symbol],
// and symbols are returned in lexical order, so the result does not depend on
// the order contributions arrive in.
func Aggregate(contributions []Contribution) (Allocation, error) {
	if err := ValidateWeights(contributions); err != nil {
		return Allocation{}, err
	}

	sums := make(map[string]decimal.Decimal)
	for _, c := range contributions {
		for _, e := range c.Allocation.Entries() {
			sums[e.Symbol] = sums[e.Symbol].Add(e.Weight.Mul(c.Weight))
		}
	}

	symbols := make([]string, 0, len(sums))
	for s := range sums {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	b := NewBuilder()
	for _, s := range symbols {
		b.Add(s, sums[s])
	}
	return b.Build(), nil
}

// ApplyCashReserve scales every weight by (1 - reserve), leaving reserve of
// the portfolio unallocated. reserve must lie in [0, 1).
func ApplyCashReserve(a Allocation, reserve decimal.Decimal) (Allocation, error) {
	one := decimal.NewFromInt(1)
	if reserve.IsNegative() || reserve.GreaterThanOrEqual(one) {
		return Allocation{}, &ConfigurationError{Reason: fmt.Sprintf("cash reserve %s outside [0, 1)", reserve)}
	}
	if reserve.IsZero() {
		return a, nil
	}
	return a.Scale(one.Sub(reserve)), nil
}
