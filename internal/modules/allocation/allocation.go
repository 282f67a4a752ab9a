// Package allocation holds resolved portfolio allocations and the logic that
// merges per-strategy allocations into one consolidated target.
package allocation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept after a division.
const Precision int32 = 18

// Epsilon is the tolerance for weights summing to one.
var Epsilon = decimal.New(1, -9)

// SumsToOne reports whether total is within Epsilon of one.
func SumsToOne(total decimal.Decimal) bool {
	return total.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(Epsilon)
}

// Entry is one symbol and its weight.
type Entry struct {
	Symbol string          `json:"symbol" msgpack:"symbol"`
	Weight decimal.Decimal `json:"weight" msgpack:"weight"`
}

// Allocation is an ordered mapping from symbol to non-negative weight.
// The zero value is an empty allocation. Allocations are never mutated after
// construction; accessors return copies.
type Allocation struct {
	symbols []string
	weights map[string]decimal.Decimal
}

// Single returns an allocation holding 100% of symbol.
func Single(symbol string) Allocation {
	return NewBuilder().Add(symbol, decimal.NewFromInt(1)).Build()
}

// FromMap builds an allocation with symbols in sorted order.
func FromMap(weights map[string]decimal.Decimal) (Allocation, error) {
	symbols := make([]string, 0, len(weights))
	for s, w := range weights {
		if w.IsNegative() {
			return Allocation{}, &ConfigurationError{Reason: fmt.Sprintf("negative weight %s for %s", w, s)}
		}
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	b := NewBuilder()
	for _, s := range symbols {
		b.Add(s, weights[s])
	}
	return b.Build(), nil
}

// Len returns the number of symbols with a non-zero weight.
func (a Allocation) Len() int {
	return len(a.symbols)
}

// IsEmpty reports whether the allocation holds nothing.
func (a Allocation) IsEmpty() bool {
	return len(a.symbols) == 0
}

// Symbols returns the symbols in allocation order.
func (a Allocation) Symbols() []string {
	out := make([]string, len(a.symbols))
	copy(out, a.symbols)
	return out
}

// Weight returns the weight of symbol, zero if absent.
func (a Allocation) Weight(symbol string) decimal.Decimal {
	if w, ok := a.weights[symbol]; ok {
		return w
	}
	return decimal.Zero
}

// Entries returns the symbols and weights in allocation order.
func (a Allocation) Entries() []Entry {
	out := make([]Entry, len(a.symbols))
	for i, s := range a.symbols {
		out[i] = Entry{Symbol: s, Weight: a.weights[s]}
	}
	return out
}

// Map returns a copy of the weights.
func (a Allocation) Map() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.weights))
	for s, w := range a.weights {
		out[s] = w
	}
	return out
}

// Total returns the exact sum of all weights.
func (a Allocation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.symbols {
		total = total.Add(a.weights[s])
	}
	return total
}

// Sorted returns the same weights with symbols in lexical order.
func (a Allocation) Sorted() Allocation {
	symbols := a.Symbols()
	sort.Strings(symbols)
	b := NewBuilder()
	for _, s := range symbols {
		b.Add(s, a.weights[s])
	}
	return b.Build()
}

// Scale returns the allocation with every weight multiplied by factor.
func (a Allocation) Scale(factor decimal.Decimal) Allocation {
	return NewBuilder().AddScaled(a, factor).Build()
}

// Equal reports whether both allocations hold the same weights, ignoring order.
func (a Allocation) Equal(other Allocation) bool {
	if len(a.symbols) != len(other.symbols) {
		return false
	}
	for s, w := range a.weights {
		if !w.Equal(other.Weight(s)) {
			return false
		}
	}
	return true
}

func (a Allocation) String() string {
	parts := make([]string, len(a.symbols))
	for i, s := range a.symbols {
		parts[i] = s + ":" + a.weights[s].String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON encodes the allocation as an object in allocation order with
// weights as exact decimal strings.
func (a Allocation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range a.symbols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(`:"`)
		buf.WriteString(a.weights[s].String())
		buf.WriteByte('"')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of decimal weights. Symbols are sorted.
func (a *Allocation) UnmarshalJSON(data []byte) error {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Builder accumulates weights by symbol, summing repeated symbols.
type Builder struct {
	symbols []string
	weights map[string]decimal.Decimal
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{weights: make(map[string]decimal.Decimal)}
}

// Add adds weight to symbol. A symbol keeps the position of its first Add.
func (b *Builder) Add(symbol string, weight decimal.Decimal) *Builder {
	if current, ok := b.weights[symbol]; ok {
		b.weights[symbol] = current.Add(weight)
		return b
	}
	b.symbols = append(b.symbols, symbol)
	b.weights[symbol] = weight
	return b
}

// AddScaled adds every weight of a multiplied by factor.
func (b *Builder) AddScaled(a Allocation, factor decimal.Decimal) *Builder {
	for _, s := range a.symbols {
		b.Add(s, a.weights[s].Mul(factor))
	}
	return b
}

// Build returns the accumulated allocation. Zero weights are dropped.
func (b *Builder) Build() Allocation {
	out := Allocation{weights: make(map[string]decimal.Decimal, len(b.symbols))}
	for _, s := range b.symbols {
		w := b.weights[s]
		if w.IsZero() {
			continue
		}
		out.symbols = append(out.symbols, s)
		out.weights[s] = w
	}
	return out
}
