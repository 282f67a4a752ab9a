package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/indicators"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

// staticSource returns fixed indicator values keyed by "kind:symbol".
type staticSource struct {
	values map[string]decimal.Decimal
	err    error
	calls  []string
}

func (s *staticSource) Evaluate(_ context.Context, spec indicators.Spec) (decimal.Decimal, error) {
	key := spec.Kind.String() + ":" + spec.Symbol
	s.calls = append(s.calls, key)
	if s.err != nil {
		return decimal.Zero, s.err
	}
	v, ok := s.values[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("no value for %s", key)
	}
	return v, nil
}

// seriesProvider serves daily closes ending at asOf.
type seriesProvider struct {
	series map[string][]float64
}

func (p *seriesProvider) GetBars(_ context.Context, symbol string, at time.Time, lookback int) ([]domain.Bar, error) {
	closes, ok := p.series[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Date: at.AddDate(0, 0, i-len(closes)+1), Close: decimal.NewFromFloat(c)}
	}
	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	return bars, nil
}

func rising(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func mustParse(t *testing.T, src string) dsl.Node {
	t.Helper()
	n, err := dsl.Parse(src)
	require.NoError(t, err)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEvaluate_Combinators(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected map[string]string
	}{
		{
			name:     "asset",
			src:      `(asset "SPY")`,
			expected: map[string]string{"SPY": "1"},
		},
		{
			name:     "group passes through",
			src:      `(group "core" [(asset "SPY")])`,
			expected: map[string]string{"SPY": "1"},
		},
		{
			name:     "weight-equal",
			src:      `(weight-equal [(asset "A") (asset "B") (asset "C") (asset "D")])`,
			expected: map[string]string{"A": "0.25", "B": "0.25", "C": "0.25", "D": "0.25"},
		},
		{
			name:     "weight-equal sums repeated symbols",
			src:      `(weight-equal [(asset "A") (weight-equal [(asset "A") (asset "B")])])`,
			expected: map[string]string{"A": "0.75", "B": "0.25"},
		},
		{
			name:     "weight-specified",
			src:      `(weight-specified [0.6 (asset "A") 0.4 (weight-equal [(asset "B") (asset "C")])])`,
			expected: map[string]string{"A": "0.6", "B": "0.2", "C": "0.2"},
		},
		{
			name:     "zero weight child contributes nothing",
			src:      `(weight-specified [1 (asset "A") 0 (asset "B")])`,
			expected: map[string]string{"A": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateWith(context.Background(), mustParse(t, tt.src), &staticSource{})
			require.NoError(t, err)
			require.Equal(t, len(tt.expected), got.Len())
			for symbol, w := range tt.expected {
				assert.True(t, got.Weight(symbol).Equal(dec(w)), "%s: got %s want %s", symbol, got.Weight(symbol), w)
			}
			assert.True(t, allocation.SumsToOne(got.Total()))
		})
	}
}

func TestEvaluate_CombinatorsSumToOne(t *testing.T) {
	for n := 1; n <= 13; n++ {
		var b strings.Builder
		b.WriteString("(weight-equal [")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, `(weight-equal [(asset "S%d") (asset "T%d") (asset "U%d")])`, i, i, i)
		}
		b.WriteString("])")

		got, err := EvaluateWith(context.Background(), mustParse(t, b.String()), &staticSource{})
		require.NoError(t, err)
		assert.True(t, allocation.SumsToOne(got.Total()), "n=%d total=%s", n, got.Total())
	}
}

func TestEvaluate_MalformedTrees(t *testing.T) {
	tests := []struct {
		name string
		node dsl.Node
	}{
		{"empty group", &dsl.Group{Label: "g"}},
		{"group with two children", &dsl.Group{Label: "g", Children: []dsl.Node{&dsl.Asset{Symbol: "A"}, &dsl.Asset{Symbol: "B"}}}},
		{"empty weight-equal", &dsl.WeightEqual{}},
		{"empty weight-specified", &dsl.WeightSpecified{}},
		{"weights not summing to one", &dsl.WeightSpecified{Weights: []dsl.WeightedNode{
			{Weight: dec("0.5"), Node: &dsl.Asset{Symbol: "A"}},
			{Weight: dec("0.4"), Node: &dsl.Asset{Symbol: "B"}},
		}}},
		{"negative weight", &dsl.WeightSpecified{Weights: []dsl.WeightedNode{
			{Weight: dec("1.5"), Node: &dsl.Asset{Symbol: "A"}},
			{Weight: dec("-0.5"), Node: &dsl.Asset{Symbol: "B"}},
		}}},
		{"non-asset filter candidate", &dsl.Filter{
			Indicator:  dsl.IndicatorSpec{Kind: indicators.RSI, Window: 10},
			Selector:   dsl.Selector{Kind: dsl.SelectTop, N: 1},
			Candidates: []dsl.Node{&dsl.Asset{Symbol: "A"}, &dsl.Group{Label: "g", Children: []dsl.Node{&dsl.Asset{Symbol: "B"}}}},
		}},
		{"empty filter", &dsl.Filter{Selector: dsl.Selector{Kind: dsl.SelectTop, N: 1}}},
		{"nil root", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &staticSource{values: map[string]decimal.Decimal{"rsi:A": dec("1"), "rsi:B": dec("2")}}
			_, err := EvaluateWith(context.Background(), tt.node, source)
			var treeErr *MalformedTreeError
			require.ErrorAs(t, err, &treeErr)
			assert.Equal(t, KindMalformedTree, Classify(err))
		})
	}
}

func TestEvaluate_IfSelectsOneBranch(t *testing.T) {
	src := `(if (> (rsi "SPY" {:window 10}) 79) [(asset "UVXY")] [(asset "SPY")])`

	tests := []struct {
		rsi      string
		expected string
	}{
		{"80", "UVXY"},
		{"79", "SPY"},
		{"79.0000001", "UVXY"},
		{"12", "SPY"},
	}
	for _, tt := range tests {
		t.Run(tt.rsi, func(t *testing.T) {
			source := &staticSource{values: map[string]decimal.Decimal{"rsi:SPY": dec(tt.rsi)}}
			got, err := EvaluateWith(context.Background(), mustParse(t, src), source)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.expected}, got.Symbols())
		})
	}
}

func TestEvaluate_IfComparesTwoIndicators(t *testing.T) {
	src := `(if (< (current-price "SPY") (moving-average-price "SPY" {:window 200})) (asset "TLT") (asset "SPY"))`
	source := &staticSource{values: map[string]decimal.Decimal{
		"current-price:SPY":        dec("400"),
		"moving-average-price:SPY": dec("420"),
	}}

	got, err := EvaluateWith(context.Background(), mustParse(t, src), source)
	require.NoError(t, err)
	assert.Equal(t, []string{"TLT"}, got.Symbols())
}

func TestEvaluate_IfPropagatesInsufficientHistory(t *testing.T) {
	provider := &seriesProvider{series: map[string][]float64{"SPY": {100, 101, 102}}}
	evaluator := NewEvaluator(provider, zerolog.Nop())
	root := mustParse(t, `(if (> (rsi "SPY" {:window 10}) 79) [(asset "UVXY")] [(asset "SPY")])`)

	got, err := evaluator.Evaluate(context.Background(), root, asOf)
	require.Error(t, err)
	assert.True(t, got.IsEmpty())

	var historyErr *indicators.InsufficientHistoryError
	require.ErrorAs(t, err, &historyErr)
	assert.Equal(t, "SPY", historyErr.Symbol)
	assert.Equal(t, indicators.RSI, historyErr.Kind)
	assert.Equal(t, 10, historyErr.Window)

	info := Describe(err)
	assert.Equal(t, KindInsufficientHistory, info.Kind)
	assert.Equal(t, "SPY", info.Symbol)
	assert.Equal(t, "rsi", info.Indicator)
	assert.Equal(t, 10, info.Window)
}

func TestEvaluate_FailureAbortsWholeTree(t *testing.T) {
	providerDown := errors.New("provider down")
	source := &staticSource{err: providerDown}
	root := mustParse(t, `(weight-equal [(asset "A") (if (> (rsi "SPY" {:window 10}) 50) (asset "B") (asset "C"))])`)

	got, err := EvaluateWith(context.Background(), root, source)
	assert.ErrorIs(t, err, providerDown)
	assert.True(t, got.IsEmpty())
}

func TestEvaluate_FilterSelection(t *testing.T) {
	values := map[string]decimal.Decimal{
		"cumulative-return:A": dec("-3"),
		"cumulative-return:B": dec("5"),
		"cumulative-return:C": dec("1"),
	}

	tests := []struct {
		name     string
		selector string
		expected []string
	}{
		{"bottom one", "(select-bottom 1)", []string{"A"}},
		{"top one", "(select-top 1)", []string{"B"}},
		{"bottom two", "(select-bottom 2)", []string{"A", "C"}},
		{"top two", "(select-top 2)", []string{"B", "C"}},
		{"more than candidates", "(select-top 5)", []string{"B", "C", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `(filter (cumulative-return {:window 10}) ` + tt.selector + ` [(asset "A") (asset "B") (asset "C")])`
			got, err := EvaluateWith(context.Background(), mustParse(t, src), &staticSource{values: values})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Symbols())
			assert.True(t, allocation.SumsToOne(got.Total()))
		})
	}
}

func TestEvaluate_FilterTiesPickFirstDeclared(t *testing.T) {
	values := map[string]decimal.Decimal{
		"rsi:A": dec("50"),
		"rsi:B": dec("50.00"),
	}
	for _, selector := range []string{"(select-top 1)", "(select-bottom 1)"} {
		t.Run(selector, func(t *testing.T) {
			src := `(filter (rsi {:window 10}) ` + selector + ` [(asset "A") (asset "B")])`
			got, err := EvaluateWith(context.Background(), mustParse(t, src), &staticSource{values: values})
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, got.Symbols())
		})
	}
}

func TestEvaluate_FilterUsesEachCandidateSymbol(t *testing.T) {
	source := &staticSource{values: map[string]decimal.Decimal{
		"max-drawdown:X": dec("10"),
		"max-drawdown:Y": dec("4"),
	}}
	root := mustParse(t, `(filter (max-drawdown {:window 5}) (select-bottom 1) [(asset "X") (asset "Y")])`)

	got, err := EvaluateWith(context.Background(), root, source)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, got.Symbols())
	assert.Equal(t, []string{"max-drawdown:X", "max-drawdown:Y"}, source.calls)
}

const fixture = `
(defsymphony "Rotation" {:rebalance-frequency :daily}
  (weight-specified
    [0.7 (if (> (current-price "SPY") (moving-average-price "SPY" {:window 20}))
           [(filter (rsi {:window 5}) (select-top 2)
              [(asset "QQQ") (asset "SPY") (asset "IWM")])]
           [(asset "TLT")])
     0.3 (group "Hedge" [(weight-equal [(asset "GLD") (asset "TLT")])])]))
`

func fixtureProvider() *seriesProvider {
	return &seriesProvider{series: map[string][]float64{
		"SPY": rising(40, 400),
		"QQQ": {300, 302, 299, 305, 310, 308, 307, 311, 315, 313, 318, 320, 316, 322, 325, 321, 330, 328, 333, 331, 336},
		"IWM": {200, 198, 199, 197, 196, 199, 201, 198, 197, 195, 194, 196, 193, 192, 195, 191, 190, 192, 189, 188, 190},
	}}
}

func TestEvaluate_RoundTripThroughPrinter(t *testing.T) {
	evaluator := NewEvaluator(fixtureProvider(), zerolog.Nop())

	parsed, err := dsl.ParseSymphony(fixture)
	require.NoError(t, err)
	first, err := evaluator.Evaluate(context.Background(), parsed.Root, asOf)
	require.NoError(t, err)

	reparsed, err := dsl.ParseSymphony(dsl.PrintSymphony(parsed))
	require.NoError(t, err)
	second, err := evaluator.Evaluate(context.Background(), reparsed.Root, asOf)
	require.NoError(t, err)

	assert.Equal(t, first.String(), second.String())
	assert.True(t, allocation.SumsToOne(first.Total()))
	assert.Equal(t, []string{"SPY", "QQQ", "GLD", "TLT"}, first.Symbols())
}

func TestEvaluate_Idempotent(t *testing.T) {
	evaluator := NewEvaluator(fixtureProvider(), zerolog.Nop())
	root := mustParse(t, fixture)

	first, err := evaluator.Evaluate(context.Background(), root, asOf)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := evaluator.Evaluate(context.Background(), root, asOf)
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
		for _, e := range first.Entries() {
			assert.Equal(t, e.Weight.String(), again.Weight(e.Symbol).String())
		}
	}
}

func TestEvaluate_SharedEnginePass(t *testing.T) {
	provider := fixtureProvider()
	engine := indicators.NewEngine(provider, asOf)
	root := mustParse(t, fixture)

	_, err := EvaluateWith(context.Background(), root, engine)
	require.NoError(t, err)
	calls := engine.ProviderCalls()

	_, err = EvaluateWith(context.Background(), root, engine)
	require.NoError(t, err)
	assert.Equal(t, calls, engine.ProviderCalls())
}

func TestEvaluate_DeepTree(t *testing.T) {
	const depth = 2000
	var n dsl.Node = &dsl.Asset{Symbol: "DEEP"}
	for i := 0; i < depth; i++ {
		n = &dsl.WeightEqual{Children: []dsl.Node{n}}
	}
	got, err := EvaluateWith(context.Background(), n, &staticSource{})
	require.NoError(t, err)
	assert.True(t, got.Weight("DEEP").Equal(dec("1")))
}

func TestEvaluate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EvaluateWith(ctx, mustParse(t, `(asset "A")`), &staticSource{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
}
