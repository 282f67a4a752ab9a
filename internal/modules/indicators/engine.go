package indicators

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/shopspring/decimal"
)

// warmupFactor scales the history requested for smoothed indicators (RSI, EMA).
const warmupFactor = 4

// Spec names one indicator value: kind applied to symbol over window bars.
type Spec struct {
	Kind   Kind   `json:"kind"`
	Symbol string `json:"symbol"`
	Window int    `json:"window"`
}

func (s Spec) String() string {
	if !s.Kind.TakesWindow() {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Symbol)
	}
	return fmt.Sprintf("%s(%s, %d)", s.Kind, s.Symbol, s.Window)
}

// Validate checks the spec can be evaluated at all.
func (s Spec) Validate() error {
	if _, ok := kindNames[s.Kind]; !ok {
		return &InvalidSpecError{Spec: s, Reason: "unknown indicator kind"}
	}
	if s.Symbol == "" {
		return &InvalidSpecError{Spec: s, Reason: "missing symbol"}
	}
	if s.Kind.TakesWindow() && s.Window < 1 {
		return &InvalidSpecError{Spec: s, Reason: "window must be at least 1"}
	}
	return nil
}

type memoKey struct {
	symbol string
	kind   Kind
	window int
	asOf   int64
}

type memoEntry struct {
	value decimal.Decimal
	err   error
}

type barsKey struct {
	symbol   string
	lookback int
}

// Engine evaluates indicators for a single evaluation pass.
//
// The as-of instant is fixed at construction, so every indicator in the pass
// sees the same snapshot. Values and failures are memoised for the lifetime of
// the Engine; create a new Engine per pass and drop it afterwards. An Engine is
// not safe for concurrent use.
type Engine struct {
	provider domain.BarProvider
	asOf     time.Time
	memo     map[memoKey]memoEntry
	bars     map[barsKey][]domain.Bar
	lookups  int
}

// NewEngine creates an evaluation pass over provider at asOf.
func NewEngine(provider domain.BarProvider, asOf time.Time) *Engine {
	return &Engine{
		provider: provider,
		asOf:     asOf,
		memo:     make(map[memoKey]memoEntry),
		bars:     make(map[barsKey][]domain.Bar),
	}
}

// AsOf returns the instant this pass evaluates at.
func (e *Engine) AsOf() time.Time {
	return e.asOf
}

// ProviderCalls returns how many times the provider was queried in this pass.
func (e *Engine) ProviderCalls() int {
	return e.lookups
}

// Evaluate returns the value of spec at the pass's as-of instant.
func (e *Engine) Evaluate(ctx context.Context, spec Spec) (decimal.Decimal, error) {
	if err := spec.Validate(); err != nil {
		return decimal.Zero, err
	}
	window := spec.Window
	if !spec.Kind.TakesWindow() {
		window = 1
	}

	key := memoKey{symbol: spec.Symbol, kind: spec.Kind, window: window, asOf: e.asOf.UnixNano()}
	if entry, ok := e.memo[key]; ok {
		return entry.value, entry.err
	}

	value, err := e.compute(ctx, spec.Symbol, spec.Kind, window)
	e.memo[key] = memoEntry{value: value, err: err}
	return value, err
}

func (e *Engine) compute(ctx context.Context, symbol string, kind Kind, window int) (decimal.Decimal, error) {
	bars, err := e.fetch(ctx, symbol, kind.lookback(window))
	if err != nil {
		return decimal.Zero, &ProviderError{Symbol: symbol, Kind: kind, Window: window, Err: err}
	}

	required := kind.Required(window)
	if len(bars) < required {
		return decimal.Zero, &InsufficientHistoryError{
			Symbol:    symbol,
			Kind:      kind,
			Window:    window,
			Required:  required,
			Available: len(bars),
		}
	}

	closes := domain.Closes(bars)
	switch kind {
	case RSI:
		return WilderRSI(closes, window), nil
	case CumulativeReturn:
		return CumulativeReturnPct(closes[len(closes)-window-1:]), nil
	case MovingAverageReturn:
		return MeanReturnPct(closes[len(closes)-window-1:]), nil
	case MovingAveragePrice:
		return Mean(closes[len(closes)-window:]), nil
	case ExponentialMovingAveragePrice:
		return EMA(closes, window), nil
	case CurrentPrice:
		return closes[len(closes)-1], nil
	case StdevPrice:
		return PopStdDev(closes[len(closes)-window:]), nil
	case MaxDrawdown:
		return MaxDrawdownPct(closes[len(closes)-window:]), nil
	default:
		return decimal.Zero, &InvalidSpecError{Spec: Spec{Kind: kind, Symbol: symbol, Window: window}, Reason: "unknown indicator kind"}
	}
}

// fetch loads bars once per (symbol, lookback) in the pass. A longer cached
// series for the same symbol is trimmed instead of refetched.
func (e *Engine) fetch(ctx context.Context, symbol string, lookback int) ([]domain.Bar, error) {
	if bars, ok := e.bars[barsKey{symbol: symbol, lookback: lookback}]; ok {
		return bars, nil
	}
	for key, bars := range e.bars {
		if key.symbol == symbol && key.lookback > lookback {
			return tail(bars, lookback), nil
		}
	}

	e.lookups++
	bars, err := e.provider.GetBars(ctx, symbol, e.asOf, lookback)
	if err != nil {
		return nil, err
	}
	bars = tail(bars, lookback)
	e.bars[barsKey{symbol: symbol, lookback: lookback}] = bars
	return bars, nil
}

func tail(bars []domain.Bar, n int) []domain.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
