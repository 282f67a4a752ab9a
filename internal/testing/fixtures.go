package testing

import (
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/shopspring/decimal"
)

// Epoch is the date of the first fixture bar.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Day returns Epoch plus n days.
func Day(n int) time.Time {
	return Epoch.AddDate(0, 0, n)
}

// Bars returns one daily bar per close, starting at Epoch. Open, high and
// low equal the close.
func Bars(closes ...string) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		v := decimal.RequireFromString(c)
		bars[i] = domain.Bar{Date: Day(i), Open: v, High: v, Low: v, Close: v, Volume: decimal.NewFromInt(1000)}
	}
	return bars
}

// Holdings builds a snapshot from alternating symbol and weight strings.
func Holdings(total string, symbolWeights ...string) domain.Holdings {
	h := domain.Holdings{
		Weights:    make(map[string]decimal.Decimal, len(symbolWeights)/2),
		TotalValue: decimal.RequireFromString(total),
	}
	for i := 0; i+1 < len(symbolWeights); i += 2 {
		h.Weights[symbolWeights[i]] = decimal.RequireFromString(symbolWeights[i+1])
	}
	return h
}
