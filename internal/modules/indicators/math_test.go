package indicators

import (
	"testing"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

var sampleCloses = []float64{
	44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08,
	45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64,
	46.21, 46.25, 45.71, 46.45, 45.78, 45.35, 44.03, 44.18, 44.22, 44.57,
}

func decimals(values []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestWilderRSI_MatchesTalib(t *testing.T) {
	for _, window := range []int{2, 5, 14} {
		expected := talib.Rsi(sampleCloses, window)
		got := WilderRSI(decimals(sampleCloses), window)
		assert.InDelta(t, expected[len(expected)-1], got.InexactFloat64(), 1e-6, "window %d", window)
	}
}

func TestWilderRSI_Degenerate(t *testing.T) {
	flat := decimals([]float64{10, 10, 10, 10})
	assert.True(t, WilderRSI(flat, 3).Equal(decimal.NewFromInt(50)))

	rising := decimals([]float64{10, 11, 12, 13})
	assert.True(t, WilderRSI(rising, 3).Equal(decimal.NewFromInt(100)))

	falling := decimals([]float64{13, 12, 11, 10})
	assert.True(t, WilderRSI(falling, 3).IsZero())
}

func TestEMA_MatchesTalib(t *testing.T) {
	for _, window := range []int{3, 10} {
		expected := talib.Ema(sampleCloses, window)
		got := EMA(decimals(sampleCloses), window)
		assert.InDelta(t, expected[len(expected)-1], got.InexactFloat64(), 1e-6, "window %d", window)
	}
}

func TestEMA_ExactWindowIsSMA(t *testing.T) {
	closes := decimals([]float64{1, 2, 3, 4})
	assert.True(t, EMA(closes, 4).Equal(decimal.NewFromFloat(2.5)))
}

func TestMean_MatchesSMA(t *testing.T) {
	expected := talib.Sma(sampleCloses, 10)
	got := Mean(decimals(sampleCloses[len(sampleCloses)-10:]))
	assert.InDelta(t, expected[len(expected)-1], got.InexactFloat64(), 1e-9)
	assert.True(t, Mean(nil).IsZero())
}

func TestPopStdDev_MatchesGonum(t *testing.T) {
	window := sampleCloses[len(sampleCloses)-20:]
	_, expected := stat.PopMeanStdDev(window, nil)
	got := PopStdDev(decimals(window))
	assert.InDelta(t, expected, got.InexactFloat64(), 1e-9)
}

func TestPopStdDev_Constant(t *testing.T) {
	assert.True(t, PopStdDev(decimals([]float64{5, 5, 5})).IsZero())
}

func TestSqrt(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"0", "0"},
		{"-4", "0"},
		{"1", "1"},
		{"4", "2"},
		{"0.25", "0.5"},
		{"1e8", "10000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Sqrt(decimal.RequireFromString(tt.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
		})
	}

	two := Sqrt(decimal.NewFromInt(2))
	assert.InDelta(t, 1.4142135623730951, two.InexactFloat64(), 1e-15)
}

func TestCumulativeReturnPct(t *testing.T) {
	got := CumulativeReturnPct(decimals([]float64{100, 90, 110}))
	assert.True(t, got.Equal(decimal.NewFromInt(10)), "got %s", got)

	got = CumulativeReturnPct(decimals([]float64{100, 80}))
	assert.True(t, got.Equal(decimal.NewFromInt(-20)), "got %s", got)
}

func TestMeanReturnPct(t *testing.T) {
	// +10% then -10%
	got := MeanReturnPct(decimals([]float64{100, 110, 99}))
	assert.True(t, got.IsZero(), "got %s", got)

	got = MeanReturnPct(decimals([]float64{100, 102, 104.04}))
	assert.True(t, got.Equal(decimal.NewFromInt(2)), "got %s", got)
}

func TestMaxDrawdownPct(t *testing.T) {
	tests := []struct {
		name     string
		closes   []float64
		expected string
	}{
		{"monotonic rise", []float64{1, 2, 3}, "0"},
		{"single dip", []float64{100, 80, 120}, "20"},
		{"deeper later", []float64{100, 90, 150, 75}, "50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxDrawdownPct(decimals(tt.closes))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
		})
	}
}
