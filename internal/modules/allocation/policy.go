package allocation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FailurePolicy decides what a cycle does when some strategies fail.
type FailurePolicy string

const (
	// PolicyAbort abandons the cycle if any strategy failed.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip drops failed strategies and renormalises the survivors.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy validates a policy name.
func ParseFailurePolicy(name string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case PolicyAbort, PolicySkip:
		return p, nil
	case "":
		return PolicyAbort, nil
	}
	return "", &ConfigurationError{Reason: fmt.Sprintf("unknown failure policy %q", name)}
}

// StrategyOutcome is the result of evaluating one strategy in a cycle.
// Err is set when evaluation failed.
type StrategyOutcome struct {
	StrategyID string
	Weight     decimal.Decimal
	Allocation Allocation
	Err        error
}

// Failure names a strategy excluded from a cycle and why.
type Failure struct {
	StrategyID string
	Err        error
}

// CycleAbortedError is returned when failed strategies stop a cycle.
type CycleAbortedError struct {
	Policy   FailurePolicy
	Failures []Failure
}

func (e *CycleAbortedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.StrategyID, f.Err)
	}
	return fmt.Sprintf("cycle aborted (policy %s), %d strategies failed: %s", e.Policy, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual strategy errors to errors.Is and errors.As.
func (e *CycleAbortedError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Outcome is the explicit decision taken for a cycle's strategy results.
type Outcome struct {
	Policy        FailurePolicy
	Contributions []Contribution
	Excluded      []Failure
	// Renormalised is true when survivor weights were rescaled to sum to one.
	Renormalised bool
}

// Resolve applies policy to the results of a cycle.
//
// With no failures the configured weights pass through unchanged. Under
// PolicyAbort any failure returns a CycleAbortedError. Under PolicySkip failed
// strategies are excluded and survivor weights are divided by their sum; if
// nothing survives, or the survivors carry no weight, the cycle aborts.
func Resolve(policy FailurePolicy, results []StrategyOutcome) (*Outcome, error) {
	if policy == "" {
		policy = PolicyAbort
	}

	var survivors []StrategyOutcome
	var failures []Failure
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, Failure{StrategyID: r.StrategyID, Err: r.Err})
			continue
		}
		survivors = append(survivors, r)
	}

	outcome := &Outcome{Policy: policy, Excluded: failures}
	if len(failures) == 0 {
		for _, r := range survivors {
			outcome.Contributions = append(outcome.Contributions, Contribution{StrategyID: r.StrategyID, Allocation: r.Allocation, Weight: r.Weight})
		}
		return outcome, nil
	}

	switch policy {
	case PolicyAbort:
		return nil, &CycleAbortedError{Policy: policy, Failures: failures}
	case PolicySkip:
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown failure policy %q", policy)}
	}

	total := decimal.Zero
	for _, r := range survivors {
		total = total.Add(r.Weight)
	}
	if len(survivors) == 0 || !total.IsPositive() {
		return nil, &CycleAbortedError{Policy: policy, Failures: failures}
	}

	outcome.Renormalised = true
	for _, r := range survivors {
		outcome.Contributions = append(outcome.Contributions, Contribution{
			StrategyID: r.StrategyID,
			Allocation: r.Allocation,
			Weight:     r.Weight.DivRound(total, Precision),
		})
	}
	return outcome, nil
}
