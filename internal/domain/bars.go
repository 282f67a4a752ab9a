package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV price bar. Prices are fixed-point decimals end to end.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// BarProvider is the price-history capability consumed by the indicator engine.
//
// GetBars returns at most lookback bars for symbol, ordered oldest to newest,
// ending at the last bar dated on or before asOf. Returning fewer bars than
// requested is not an error; the caller decides whether the history suffices.
// Timeouts and retries belong to the implementation.
type BarProvider interface {
	GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]Bar, error)
}

// Closes extracts closing prices from bars in order.
func Closes(bars []Bar) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
