package domain

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Holdings is the current-portfolio snapshot supplied per rebalance cycle.
// Weights are fractions of TotalValue keyed by symbol.
type Holdings struct {
	Weights    map[string]decimal.Decimal `json:"weights"`
	TotalValue decimal.Decimal            `json:"total_value"`
}

// Weight returns the held weight for symbol, zero when not held.
func (h Holdings) Weight(symbol string) decimal.Decimal {
	if w, ok := h.Weights[symbol]; ok {
		return w
	}
	return decimal.Zero
}

// Symbols returns held symbols in sorted order.
func (h Holdings) Symbols() []string {
	symbols := make([]string, 0, len(h.Weights))
	for s := range h.Weights {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// HoldingsProvider supplies the holdings snapshot for a cycle.
type HoldingsProvider interface {
	Snapshot(ctx context.Context) (Holdings, error)
}
