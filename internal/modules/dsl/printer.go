package dsl

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const indentUnit = "  "

// Print renders n in canonical source form. Parse(Print(n)) yields a tree
// equal to n.
func Print(n Node) string {
	var b strings.Builder
	writeNode(&b, n, 0)
	return b.String()
}

// PrintSymphony renders s including its defsymphony wrapper when named.
func PrintSymphony(s *Symphony) string {
	if s.Name == "" && len(s.Options) == 0 {
		return Print(s.Root)
	}
	var b strings.Builder
	b.WriteString("(" + formDefSymphony + " " + quote(s.Name))
	if len(s.Options) > 0 {
		b.WriteString(" {")
		for i, o := range s.Options {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(":" + o.Key + " " + o.Raw)
		}
		b.WriteString("}")
	}
	b.WriteString("\n" + indentUnit)
	writeNode(&b, s.Root, 1)
	b.WriteString(")")
	return b.String()
}

// child is a nested node plus the text wrapped around it on its line.
type child struct {
	prefix string
	node   Node
	suffix string
}

type printItem struct {
	text  string
	node  Node
	depth int
}

// writeNode prints the tree with an explicit stack of pending text and nodes.
func writeNode(b *strings.Builder, root Node, depth int) {
	stack := []printItem{{node: root, depth: depth}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.node == nil {
			b.WriteString(it.text)
			continue
		}

		open, children, close := layout(it.node)
		b.WriteString(open)
		stack = append(stack, printItem{text: close})
		indent := "\n" + strings.Repeat(indentUnit, it.depth+1)
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			stack = append(stack,
				printItem{text: c.suffix},
				printItem{node: c.node, depth: it.depth + 1},
				printItem{text: indent + c.prefix},
			)
		}
	}
}

// layout returns the opening text, nested children and closing text of n.
func layout(n Node) (string, []child, string) {
	switch v := n.(type) {
	case *Asset:
		if v.DisplayName != "" {
			return "(" + formAsset + " " + quote(v.Symbol) + " " + quote(v.DisplayName) + ")", nil, ""
		}
		return "(" + formAsset + " " + quote(v.Symbol) + ")", nil, ""
	case *Group:
		return "(" + formGroup + " " + quote(v.Label) + " [", plain(v.Children), "])"
	case *WeightEqual:
		return "(" + formWeightEqual + " [", plain(v.Children), "])"
	case *WeightSpecified:
		children := make([]child, len(v.Weights))
		for i, w := range v.Weights {
			children[i] = child{prefix: formatNumber(w.Weight) + " ", node: w.Node}
		}
		return "(" + formWeightSpecified + " [", children, "])"
	case *If:
		return "(" + formIf + " " + formatCondition(v.Condition),
			[]child{{prefix: "[", node: v.Then, suffix: "]"}, {prefix: "[", node: v.Else, suffix: "]"}},
			")"
	case *Filter:
		return "(" + formFilter + " " + formatIndicator(v.Indicator) + " (" + v.Selector.Kind.String() + " " + strconv.Itoa(v.Selector.N) + ") [",
			plain(v.Candidates), "])"
	}
	return "(unknown)", nil, ""
}

func plain(nodes []Node) []child {
	out := make([]child, len(nodes))
	for i, n := range nodes {
		out[i] = child{node: n}
	}
	return out
}

func formatCondition(c Condition) string {
	return "(" + c.Op.String() + " " + formatOperand(c.Left) + " " + formatOperand(c.Right) + ")"
}

func formatOperand(o Operand) string {
	if o.IsLiteral() {
		return formatNumber(o.Value)
	}
	return formatIndicator(*o.Indicator)
}

func formatIndicator(s IndicatorSpec) string {
	var b strings.Builder
	b.WriteString("(" + s.Kind.String())
	if s.Symbol != "" {
		b.WriteString(" " + quote(s.Symbol))
	}
	if s.Kind.TakesWindow() {
		b.WriteString(" {:window " + strconv.Itoa(s.Window) + "}")
	}
	b.WriteString(")")
	return b.String()
}

// formatNumber keeps the literal's scale so re-parsing yields the same decimal.
func formatNumber(d decimal.Decimal) string {
	if d.Exponent() < 0 {
		return d.StringFixed(-d.Exponent())
	}
	return d.String()
}

func printScalar(d *datum) string {
	switch d.kind {
	case stringDatum:
		return quote(d.text)
	case numberDatum:
		return formatNumber(d.num)
	case keywordDatum:
		return ":" + d.text
	default:
		return d.text
	}
}
