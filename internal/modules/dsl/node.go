// Package dsl parses and prints symphony strategy definitions.
//
// A symphony is an EDN-flavoured S-expression tree of weighting, conditional
// and filtering forms over asset leaves. Parsing and printing use explicit
// stacks so arbitrarily deep trees never exhaust the goroutine stack.
package dsl

import (
	"github.com/aristath/symphony/internal/modules/indicators"
	"github.com/shopspring/decimal"
)

// Node is an expression tree node. The set of implementations is closed:
// *Asset, *Group, *WeightEqual, *WeightSpecified, *If and *Filter.
// Nodes are immutable after parsing and may be shared between goroutines.
type Node interface {
	node()
}

// Asset is a terminal holding 100% of its own symbol.
type Asset struct {
	Symbol      string `json:"symbol"`
	DisplayName string `json:"display_name,omitempty"`
}

// Group is a labelled pass-through wrapper around a single child.
type Group struct {
	Label    string `json:"label"`
	Children []Node `json:"children"`
}

// WeightEqual splits weight evenly across its children.
type WeightEqual struct {
	Children []Node `json:"children"`
}

// WeightedNode pairs a child with its explicit weight.
type WeightedNode struct {
	Weight decimal.Decimal `json:"weight"`
	Node   Node            `json:"node"`
}

// WeightSpecified applies explicit weights to its children.
type WeightSpecified struct {
	Weights []WeightedNode `json:"weights"`
}

// If evaluates exactly one of its branches depending on Condition.
type If struct {
	Condition Condition `json:"condition"`
	Then      Node      `json:"then"`
	Else      Node      `json:"else"`
}

// Filter ranks candidates by an indicator and keeps the selected ones.
type Filter struct {
	Indicator  IndicatorSpec `json:"indicator"`
	Selector   Selector      `json:"selector"`
	Candidates []Node        `json:"candidates"`
}

func (*Asset) node()           {}
func (*Group) node()           {}
func (*WeightEqual) node()     {}
func (*WeightSpecified) node() {}
func (*If) node()              {}
func (*Filter) node()          {}

// IndicatorSpec names an indicator call. Symbol is empty inside a Filter,
// where the indicator is applied to each candidate in turn.
type IndicatorSpec struct {
	Kind   indicators.Kind `json:"kind"`
	Symbol string          `json:"symbol,omitempty"`
	Window int             `json:"window"`
}

// Spec returns the engine spec for the call's own symbol.
func (s IndicatorSpec) Spec() indicators.Spec {
	return s.For(s.Symbol)
}

// For returns the engine spec with symbol substituted.
func (s IndicatorSpec) For(symbol string) indicators.Spec {
	return indicators.Spec{Kind: s.Kind, Symbol: symbol, Window: s.Window}
}

// Comparator is a binary comparison operator.
type Comparator int

const (
	Less Comparator = iota + 1
	LessOrEqual
	Greater
	GreaterOrEqual
)

var comparatorNames = map[Comparator]string{
	Less:           "<",
	LessOrEqual:    "<=",
	Greater:        ">",
	GreaterOrEqual: ">=",
}

func (c Comparator) String() string {
	return comparatorNames[c]
}

func (c Comparator) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseComparator resolves an operator symbol.
func ParseComparator(s string) (Comparator, bool) {
	for c, name := range comparatorNames {
		if name == s {
			return c, true
		}
	}
	return 0, false
}

// Compare applies the operator to a and b.
func (c Comparator) Compare(a, b decimal.Decimal) bool {
	switch c {
	case Less:
		return a.LessThan(b)
	case LessOrEqual:
		return a.LessThanOrEqual(b)
	case Greater:
		return a.GreaterThan(b)
	case GreaterOrEqual:
		return a.GreaterThanOrEqual(b)
	}
	return false
}

// Operand is one side of a Condition: an indicator call or a literal.
type Operand struct {
	Indicator *IndicatorSpec   `json:"indicator,omitempty"`
	Value     decimal.Decimal `json:"value"`
}

// IsLiteral reports whether the operand is a constant.
func (o Operand) IsLiteral() bool {
	return o.Indicator == nil
}

// Condition compares two operands.
type Condition struct {
	Op    Comparator `json:"op"`
	Left  Operand    `json:"left"`
	Right Operand    `json:"right"`
}

// SelectorKind picks which end of the ranking a Filter keeps.
type SelectorKind int

const (
	SelectTop SelectorKind = iota + 1
	SelectBottom
)

func (k SelectorKind) String() string {
	switch k {
	case SelectTop:
		return "select-top"
	case SelectBottom:
		return "select-bottom"
	}
	return "select-unknown"
}

func (k SelectorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Selector keeps the N highest (top) or lowest (bottom) ranked candidates.
type Selector struct {
	Kind SelectorKind `json:"kind"`
	N    int          `json:"n"`
}

// Children returns the direct child nodes of n in declaration order.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Group:
		return v.Children
	case *WeightEqual:
		return v.Children
	case *WeightSpecified:
		out := make([]Node, len(v.Weights))
		for i, w := range v.Weights {
			out[i] = w.Node
		}
		return out
	case *If:
		return []Node{v.Then, v.Else}
	case *Filter:
		return v.Candidates
	}
	return nil
}

// Symbols lists the asset symbols referenced by the tree in order of first
// appearance.
func Symbols(root Node) []string {
	var out []string
	seen := make(map[string]bool)
	walk(root, func(n Node) {
		if a, ok := n.(*Asset); ok && !seen[a.Symbol] {
			seen[a.Symbol] = true
			out = append(out, a.Symbol)
		}
	})
	return out
}

// IndicatorSymbols lists the symbols named by indicator calls in conditions,
// in order of first appearance.
func IndicatorSymbols(root Node) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(o Operand) {
		if o.Indicator != nil && o.Indicator.Symbol != "" && !seen[o.Indicator.Symbol] {
			seen[o.Indicator.Symbol] = true
			out = append(out, o.Indicator.Symbol)
		}
	}
	walk(root, func(n Node) {
		if v, ok := n.(*If); ok {
			add(v.Condition.Left)
			add(v.Condition.Right)
		}
	})
	return out
}

// walk visits every node in pre-order, declaration order.
func walk(root Node, visit func(Node)) {
	if root == nil {
		return
	}
	stack := []Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		visit(n)
		children := Children(n)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}
