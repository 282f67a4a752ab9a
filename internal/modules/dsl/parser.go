package dsl

import (
	"math"

	"github.com/aristath/symphony/internal/modules/indicators"
	"github.com/shopspring/decimal"
)

// Form names.
const (
	formAsset           = "asset"
	formGroup           = "group"
	formWeightEqual     = "weight-equal"
	formWeightSpecified = "weight-specified"
	formIf              = "if"
	formFilter          = "filter"
	formDefSymphony     = "defsymphony"
)

// Option is one entry of a defsymphony options map. Raw is the value as it
// is printed back, e.g. `"EQUITIES"` or `:daily`.
type Option struct {
	Key string `json:"key"`
	Raw string `json:"raw"`
}

// Symphony is a named strategy definition.
type Symphony struct {
	Name    string   `json:"name,omitempty"`
	Options []Option `json:"options,omitempty"`
	Root    Node     `json:"-"`
}

// Option returns the value of key with string quotes and keyword colons removed.
func (s *Symphony) Option(key string) (string, bool) {
	for _, o := range s.Options {
		if o.Key != key {
			continue
		}
		raw := o.Raw
		if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
			if datums, err := read(raw); err == nil && len(datums) == 1 {
				return datums[0].text, true
			}
		}
		if len(raw) > 1 && raw[0] == ':' {
			return raw[1:], true
		}
		return raw, true
	}
	return "", false
}

// Parse parses a strategy expression and returns its root node. A
// defsymphony wrapper is accepted and unwrapped.
func Parse(src string) (Node, error) {
	s, err := ParseSymphony(src)
	if err != nil {
		return nil, err
	}
	return s.Root, nil
}

// ParseSymphony parses a strategy definition, with or without the
// (defsymphony "name" {options} expr) wrapper.
func ParseSymphony(src string) (*Symphony, error) {
	datums, err := read(src)
	if err != nil {
		return nil, err
	}
	if len(datums) == 0 {
		return nil, errorf(Pos{Line: 1, Col: 1}, "", "empty source")
	}
	if len(datums) > 1 {
		return nil, errorf(datums[1].pos, datums[1].describe(), "unexpected form after root expression")
	}

	top := datums[0]
	if top.head() != formDefSymphony {
		root, err := build(top)
		if err != nil {
			return nil, err
		}
		return &Symphony{Root: root}, nil
	}

	args := top.items[1:]
	if len(args) < 2 || len(args) > 3 {
		return nil, errorf(top.pos, formDefSymphony, "expected name, optional options map and one expression")
	}
	if args[0].kind != stringDatum {
		return nil, errorf(args[0].pos, formDefSymphony, "name must be a string, got %s", args[0].describe())
	}
	s := &Symphony{Name: args[0].text}
	if len(args) == 3 {
		if args[1].kind != mapDatum {
			return nil, errorf(args[1].pos, formDefSymphony, "options must be a map, got %s", args[1].describe())
		}
		for i := 0; i < len(args[1].items); i += 2 {
			key, value := args[1].items[i], args[1].items[i+1]
			if key.kind != keywordDatum {
				return nil, errorf(key.pos, formDefSymphony, "option keys must be keywords, got %s", key.describe())
			}
			switch value.kind {
			case stringDatum, numberDatum, keywordDatum, symbolDatum:
			default:
				return nil, errorf(value.pos, ":"+key.text, "option values must be scalars")
			}
			s.Options = append(s.Options, Option{Key: key.text, Raw: printScalar(value)})
		}
	}

	root, err := build(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	s.Root = root
	return s, nil
}

// build converts a datum into a node tree. Children are built before their
// parents using an explicit post-order stack.
func build(root *datum) (Node, error) {
	type frame struct {
		d        *datum
		expanded bool
	}

	built := make(map[*datum]Node)
	stack := []frame{{d: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.expanded {
			n, err := buildNode(f.d, built)
			if err != nil {
				return nil, err
			}
			built[f.d] = n
			continue
		}

		children, err := nodeChildren(f.d)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame{d: f.d, expanded: true})
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{d: children[i]})
		}
	}
	return built[root], nil
}

// nodeChildren validates the outer shape of a form and returns the datums
// that must themselves be built as nodes.
func nodeChildren(d *datum) ([]*datum, error) {
	head, err := formHead(d)
	if err != nil {
		return nil, err
	}

	switch head {
	case formAsset:
		return nil, nil
	case formGroup:
		if len(d.items) < 2 {
			return nil, errorf(d.pos, formGroup, "missing label")
		}
		return body(d.items[2:]), nil
	case formWeightEqual:
		return body(d.items[1:]), nil
	case formWeightSpecified:
		pairs := body(d.items[1:])
		if len(pairs)%2 != 0 {
			return nil, errorf(d.pos, formWeightSpecified, "expected alternating weight and node")
		}
		out := make([]*datum, 0, len(pairs)/2)
		for i := 1; i < len(pairs); i += 2 {
			out = append(out, pairs[i])
		}
		return out, nil
	case formIf:
		if len(d.items) != 4 {
			return nil, errorf(d.pos, formIf, "expected condition, then branch and else branch")
		}
		then, err := branch(d.items[2])
		if err != nil {
			return nil, err
		}
		els, err := branch(d.items[3])
		if err != nil {
			return nil, err
		}
		return []*datum{then, els}, nil
	case formFilter:
		if len(d.items) < 4 {
			return nil, errorf(d.pos, formFilter, "expected indicator, selector and candidates")
		}
		return body(d.items[3:]), nil
	}

	if _, ok := indicators.ParseKind(head); ok {
		return nil, errorf(d.pos, head, "indicator call is not a portfolio expression")
	}
	return nil, errorf(d.pos, head, "unknown form")
}

func formHead(d *datum) (string, error) {
	if d.kind != listDatum {
		return "", errorf(d.pos, d.describe(), "expected a form")
	}
	if len(d.items) == 0 {
		return "", errorf(d.pos, "()", "empty form")
	}
	if d.items[0].kind != symbolDatum {
		return "", errorf(d.items[0].pos, d.items[0].describe(), "form must start with a name")
	}
	return d.items[0].text, nil
}

// body unwraps a single vector argument, so both (weight-equal [a b]) and
// (weight-equal a b) are accepted.
func body(items []*datum) []*datum {
	if len(items) == 1 && items[0].kind == vectorDatum {
		return items[0].items
	}
	return items
}

// branch unwraps an if branch written as [node].
func branch(d *datum) (*datum, error) {
	if d.kind != vectorDatum {
		return d, nil
	}
	if len(d.items) != 1 {
		return nil, errorf(d.pos, formIf, "branch must contain exactly one expression, got %d", len(d.items))
	}
	return d.items[0], nil
}

func buildNode(d *datum, built map[*datum]Node) (Node, error) {
	children := func(ds []*datum) []Node {
		out := make([]Node, len(ds))
		for i, c := range ds {
			out[i] = built[c]
		}
		return out
	}

	switch d.items[0].text {
	case formAsset:
		args := d.items[1:]
		if len(args) < 1 || len(args) > 2 {
			return nil, errorf(d.pos, formAsset, "expected symbol and optional display name")
		}
		for _, a := range args {
			if a.kind != stringDatum {
				return nil, errorf(a.pos, formAsset, "expected string, got %s", a.describe())
			}
		}
		if args[0].text == "" {
			return nil, errorf(args[0].pos, formAsset, "empty symbol")
		}
		a := &Asset{Symbol: args[0].text}
		if len(args) == 2 {
			a.DisplayName = args[1].text
		}
		return a, nil

	case formGroup:
		label := d.items[1]
		if label.kind != stringDatum {
			return nil, errorf(label.pos, formGroup, "label must be a string, got %s", label.describe())
		}
		return &Group{Label: label.text, Children: children(body(d.items[2:]))}, nil

	case formWeightEqual:
		return &WeightEqual{Children: children(body(d.items[1:]))}, nil

	case formWeightSpecified:
		pairs := body(d.items[1:])
		ws := &WeightSpecified{Weights: make([]WeightedNode, 0, len(pairs)/2)}
		for i := 0; i < len(pairs); i += 2 {
			w := pairs[i]
			if w.kind != numberDatum {
				return nil, errorf(w.pos, formWeightSpecified, "expected weight, got %s", w.describe())
			}
			ws.Weights = append(ws.Weights, WeightedNode{Weight: w.num, Node: built[pairs[i+1]]})
		}
		return ws, nil

	case formIf:
		cond, err := parseCondition(d.items[1])
		if err != nil {
			return nil, err
		}
		then, _ := branch(d.items[2])
		els, _ := branch(d.items[3])
		return &If{Condition: cond, Then: built[then], Else: built[els]}, nil

	case formFilter:
		ind, err := parseIndicator(d.items[1], false)
		if err != nil {
			return nil, err
		}
		sel, err := parseSelector(d.items[2])
		if err != nil {
			return nil, err
		}
		return &Filter{Indicator: ind, Selector: sel, Candidates: children(body(d.items[3:]))}, nil
	}

	return nil, errorf(d.pos, d.items[0].text, "unknown form")
}

func parseCondition(d *datum) (Condition, error) {
	head, err := formHead(d)
	if err != nil {
		return Condition{}, err
	}
	op, ok := ParseComparator(head)
	if !ok {
		return Condition{}, errorf(d.pos, head, "unknown comparator")
	}
	if len(d.items) != 3 {
		return Condition{}, errorf(d.pos, head, "comparison takes exactly two operands")
	}

	left, err := parseOperand(d.items[1])
	if err != nil {
		return Condition{}, err
	}
	right, err := parseOperand(d.items[2])
	if err != nil {
		return Condition{}, err
	}
	if left.IsLiteral() && right.IsLiteral() {
		return Condition{}, errorf(d.pos, head, "at least one operand must be an indicator")
	}
	return Condition{Op: op, Left: left, Right: right}, nil
}

func parseOperand(d *datum) (Operand, error) {
	if d.kind == numberDatum {
		return Operand{Value: d.num}, nil
	}
	spec, err := parseIndicator(d, true)
	if err != nil {
		return Operand{}, err
	}
	return Operand{Indicator: &spec}, nil
}

// parseIndicator reads (kind "SYM" {:window n}). Inside a filter the symbol
// is omitted.
func parseIndicator(d *datum, withSymbol bool) (IndicatorSpec, error) {
	head, err := formHead(d)
	if err != nil {
		return IndicatorSpec{}, err
	}
	kind, ok := indicators.ParseKind(head)
	if !ok {
		return IndicatorSpec{}, errorf(d.pos, head, "unknown indicator")
	}

	spec := IndicatorSpec{Kind: kind}
	args := d.items[1:]
	if withSymbol {
		if len(args) == 0 || args[0].kind != stringDatum || args[0].text == "" {
			return IndicatorSpec{}, errorf(d.pos, head, "expected symbol string")
		}
		spec.Symbol = args[0].text
		args = args[1:]
	}

	var opts *datum
	switch len(args) {
	case 0:
	case 1:
		if args[0].kind != mapDatum {
			return IndicatorSpec{}, errorf(args[0].pos, head, "expected options map, got %s", args[0].describe())
		}
		opts = args[0]
	default:
		return IndicatorSpec{}, errorf(d.pos, head, "too many arguments")
	}

	if !kind.TakesWindow() {
		if opts != nil && len(opts.items) > 0 {
			return IndicatorSpec{}, errorf(opts.pos, head, "takes no options")
		}
		spec.Window = 1
		return spec, nil
	}
	if opts == nil {
		return IndicatorSpec{}, errorf(d.pos, head, "missing {:window n}")
	}
	for i := 0; i < len(opts.items); i += 2 {
		key, value := opts.items[i], opts.items[i+1]
		if key.kind != keywordDatum || key.text != "window" {
			return IndicatorSpec{}, errorf(key.pos, head, "unknown option %s", key.describe())
		}
		n, err := positiveInt(value, head)
		if err != nil {
			return IndicatorSpec{}, err
		}
		spec.Window = n
	}
	if spec.Window == 0 {
		return IndicatorSpec{}, errorf(d.pos, head, "missing {:window n}")
	}
	return spec, nil
}

func parseSelector(d *datum) (Selector, error) {
	head, err := formHead(d)
	if err != nil {
		return Selector{}, err
	}
	var kind SelectorKind
	switch head {
	case SelectTop.String():
		kind = SelectTop
	case SelectBottom.String():
		kind = SelectBottom
	default:
		return Selector{}, errorf(d.pos, head, "unknown selector")
	}
	if len(d.items) != 2 {
		return Selector{}, errorf(d.pos, head, "expected a single count")
	}
	n, err := positiveInt(d.items[1], head)
	if err != nil {
		return Selector{}, err
	}
	return Selector{Kind: kind, N: n}, nil
}

var maxInt = decimal.NewFromInt(math.MaxInt32)

func positiveInt(d *datum, construct string) (int, error) {
	if d.kind != numberDatum || !d.num.IsInteger() {
		return 0, errorf(d.pos, construct, "expected a whole number, got %s", d.describe())
	}
	if d.num.LessThan(decimal.NewFromInt(1)) || d.num.GreaterThan(maxInt) {
		return 0, errorf(d.pos, construct, "%s out of range", d.num)
	}
	return int(d.num.IntPart()), nil
}
