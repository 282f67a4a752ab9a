package allocation

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuilder_SumsRepeatedSymbols(t *testing.T) {
	a := NewBuilder().
		Add("SPY", d("0.25")).
		Add("TLT", d("0.5")).
		Add("SPY", d("0.25")).
		Build()

	assert.Equal(t, []string{"SPY", "TLT"}, a.Symbols())
	assert.True(t, a.Weight("SPY").Equal(d("0.5")))
	assert.True(t, a.Weight("missing").IsZero())
	assert.True(t, SumsToOne(a.Total()))
}

func TestBuilder_DropsZeroWeights(t *testing.T) {
	a := NewBuilder().Add("A", d("1")).Add("B", decimal.Zero).Build()
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, []string{"A"}, a.Symbols())
}

func TestAllocation_IsImmutable(t *testing.T) {
	a := Single("SPY")
	symbols := a.Symbols()
	symbols[0] = "MUTATED"
	weights := a.Map()
	weights["SPY"] = d("0.1")

	assert.Equal(t, []string{"SPY"}, a.Symbols())
	assert.True(t, a.Weight("SPY").Equal(d("1")))
}

func TestFromMap(t *testing.T) {
	a, err := FromMap(map[string]decimal.Decimal{"B": d("0.5"), "A": d("0.5")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, a.Symbols())

	_, err = FromMap(map[string]decimal.Decimal{"A": d("-0.1")})
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAllocation_JSON(t *testing.T) {
	a := NewBuilder().Add("TLT", d("0.4")).Add("SPY", d("0.6")).Build()

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"TLT":"0.4","SPY":"0.6"}`, string(data))
	assert.Equal(t, `{"TLT":"0.4","SPY":"0.6"}`, string(data))

	var back Allocation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, a.Equal(back))
	assert.Equal(t, []string{"SPY", "TLT"}, back.Symbols())
}

func TestAllocation_Equal(t *testing.T) {
	a := NewBuilder().Add("A", d("0.5")).Add("B", d("0.5")).Build()
	b := NewBuilder().Add("B", d("0.50")).Add("A", d("0.5")).Build()
	c := NewBuilder().Add("A", d("0.5")).Add("C", d("0.5")).Build()

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Single("A")))
}
