// Package evaluation resolves symphony expression trees into allocations.
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/indicators"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// IndicatorSource returns indicator values for one evaluation pass.
// *indicators.Engine implements it.
type IndicatorSource interface {
	Evaluate(ctx context.Context, spec indicators.Spec) (decimal.Decimal, error)
}

// Evaluator turns expression trees into allocations against a bar provider.
// It holds no per-evaluation state and is safe for concurrent use.
type Evaluator struct {
	provider domain.BarProvider
	log      zerolog.Logger
}

// NewEvaluator creates an evaluator reading history from provider.
func NewEvaluator(provider domain.BarProvider, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		provider: provider,
		log:      log.With().Str("service", "evaluator").Logger(),
	}
}

// Evaluate resolves root at asOf. Each call opens its own indicator pass, so
// the result depends only on the tree, the provider's data and asOf.
func (e *Evaluator) Evaluate(ctx context.Context, root dsl.Node, asOf time.Time) (allocation.Allocation, error) {
	engine := indicators.NewEngine(e.provider, asOf)
	start := time.Now()

	result, err := EvaluateWith(ctx, root, engine)
	if err != nil {
		e.log.Debug().Err(err).Time("as_of", asOf).Msg("Evaluation failed")
		return allocation.Allocation{}, err
	}

	e.log.Debug().
		Time("as_of", asOf).
		Int("symbols", result.Len()).
		Int("provider_calls", engine.ProviderCalls()).
		Dur("duration", time.Since(start)).
		Msg("Evaluation complete")
	return result, nil
}

type frameOp int

const (
	opEnter frameOp = iota
	opCombine
)

// frame is one unit of pending work. For opCombine, weights holds the factor
// applied to each of the last len(weights) results.
type frame struct {
	op      frameOp
	node    dsl.Node
	weights []decimal.Decimal
}

// EvaluateWith resolves root using source for every indicator lookup.
//
// The tree is walked with an explicit work stack. Entering a combinator
// schedules its children followed by a combine step that pops their results.
// Any failure aborts the walk; no partial allocation is returned.
func EvaluateWith(ctx context.Context, root dsl.Node, source IndicatorSource) (allocation.Allocation, error) {
	if root == nil {
		return allocation.Allocation{}, &MalformedTreeError{Reason: "empty tree"}
	}

	work := []frame{{op: opEnter, node: root}}
	var results []allocation.Allocation

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return allocation.Allocation{}, err
		}

		f := work[len(work)-1]
		work = work[:len(work)-1]

		if f.op == opCombine {
			n := len(f.weights)
			children := results[len(results)-n:]
			b := allocation.NewBuilder()
			for i, child := range children {
				for _, e := range child.Entries() {
					// rounding keeps deep trees from growing the decimal scale without bound
					b.Add(e.Symbol, e.Weight.Mul(f.weights[i]).Round(allocation.Precision))
				}
			}
			results = append(results[:len(results)-n], b.Build())
			continue
		}

		switch node := f.node.(type) {
		case *dsl.Asset:
			if node.Symbol == "" {
				return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "asset has no symbol"}
			}
			results = append(results, allocation.Single(node.Symbol))

		case *dsl.Group:
			if len(node.Children) != 1 {
				return allocation.Allocation{}, &MalformedTreeError{
					Node:   node,
					Reason: fmt.Sprintf("group must have exactly one child, has %d", len(node.Children)),
				}
			}
			work = append(work, frame{op: opEnter, node: node.Children[0]})

		case *dsl.WeightEqual:
			if len(node.Children) == 0 {
				return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "no children"}
			}
			work = schedule(work, node.Children, equalWeights(len(node.Children)))

		case *dsl.WeightSpecified:
			weights, err := specifiedWeights(node)
			if err != nil {
				return allocation.Allocation{}, err
			}
			children := make([]dsl.Node, len(node.Weights))
			for i, w := range node.Weights {
				children[i] = w.Node
			}
			work = schedule(work, children, weights)

		case *dsl.If:
			ok, err := holds(ctx, node.Condition, source)
			if err != nil {
				return allocation.Allocation{}, err
			}
			next := node.Else
			if ok {
				next = node.Then
			}
			if next == nil {
				return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "missing branch"}
			}
			work = append(work, frame{op: opEnter, node: next})

		case *dsl.Filter:
			selected, err := filter(ctx, node, source)
			if err != nil {
				return allocation.Allocation{}, err
			}
			results = append(results, selected)

		case nil:
			return allocation.Allocation{}, &MalformedTreeError{Reason: "missing node"}

		default:
			return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "unknown node type"}
		}
	}

	if len(results) != 1 {
		return allocation.Allocation{}, fmt.Errorf("evaluation finished with %d results", len(results))
	}
	return results[0], nil
}

// schedule pushes a combine step and then the children, last child first,
// so children run in declaration order and the combine runs after them.
func schedule(work []frame, children []dsl.Node, weights []decimal.Decimal) []frame {
	work = append(work, frame{op: opCombine, weights: weights})
	for i := len(children) - 1; i >= 0; i-- {
		work = append(work, frame{op: opEnter, node: children[i]})
	}
	return work
}

func equalWeights(n int) []decimal.Decimal {
	share := decimal.NewFromInt(1).DivRound(decimal.NewFromInt(int64(n)), allocation.Precision)
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = share
	}
	return out
}

func specifiedWeights(node *dsl.WeightSpecified) ([]decimal.Decimal, error) {
	if len(node.Weights) == 0 {
		return nil, &MalformedTreeError{Node: node, Reason: "no children"}
	}
	total := decimal.Zero
	out := make([]decimal.Decimal, len(node.Weights))
	for i, w := range node.Weights {
		if w.Node == nil {
			return nil, &MalformedTreeError{Node: node, Reason: fmt.Sprintf("weight %d has no node", i)}
		}
		if w.Weight.IsNegative() {
			return nil, &MalformedTreeError{Node: node, Reason: fmt.Sprintf("negative weight %s", w.Weight)}
		}
		total = total.Add(w.Weight)
		out[i] = w.Weight
	}
	if !allocation.SumsToOne(total) {
		return nil, &MalformedTreeError{Node: node, Reason: fmt.Sprintf("weights sum to %s, expected 1", total)}
	}
	return out, nil
}

func holds(ctx context.Context, c dsl.Condition, source IndicatorSource) (bool, error) {
	left, err := operand(ctx, c.Left, source)
	if err != nil {
		return false, err
	}
	right, err := operand(ctx, c.Right, source)
	if err != nil {
		return false, err
	}
	return c.Op.Compare(left, right), nil
}

func operand(ctx context.Context, o dsl.Operand, source IndicatorSource) (decimal.Decimal, error) {
	if o.IsLiteral() {
		return o.Value, nil
	}
	return source.Evaluate(ctx, o.Indicator.Spec())
}

type ranked struct {
	symbol string
	value  decimal.Decimal
}

// filter ranks asset candidates by the filter's indicator and returns the
// selected symbols weighted equally. Ties keep declaration order.
func filter(ctx context.Context, node *dsl.Filter, source IndicatorSource) (allocation.Allocation, error) {
	if len(node.Candidates) == 0 {
		return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "no candidates"}
	}
	if node.Selector.N < 1 {
		return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: fmt.Sprintf("selector count %d", node.Selector.N)}
	}

	candidates := make([]ranked, len(node.Candidates))
	for i, c := range node.Candidates {
		asset, ok := c.(*dsl.Asset)
		if !ok {
			return allocation.Allocation{}, &MalformedTreeError{
				Node:   node,
				Reason: fmt.Sprintf("candidate %d is %s, only assets can be filtered", i, nodeName(c)),
			}
		}
		value, err := source.Evaluate(ctx, node.Indicator.For(asset.Symbol))
		if err != nil {
			return allocation.Allocation{}, err
		}
		candidates[i] = ranked{symbol: asset.Symbol, value: value}
	}

	switch node.Selector.Kind {
	case dsl.SelectBottom:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].value.LessThan(candidates[j].value)
		})
	case dsl.SelectTop:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].value.GreaterThan(candidates[j].value)
		})
	default:
		return allocation.Allocation{}, &MalformedTreeError{Node: node, Reason: "unknown selector"}
	}

	n := node.Selector.N
	if n > len(candidates) {
		n = len(candidates)
	}
	share := decimal.NewFromInt(1).DivRound(decimal.NewFromInt(int64(n)), allocation.Precision)
	b := allocation.NewBuilder()
	for _, c := range candidates[:n] {
		b.Add(c.symbol, share)
	}
	return b.Build(), nil
}
