package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/indicators"
)

// MalformedTreeError reports a structural invariant violated by a node.
type MalformedTreeError struct {
	Node   dsl.Node
	Reason string
}

func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed tree at %s: %s", nodeName(e.Node), e.Reason)
}

func nodeName(n dsl.Node) string {
	switch v := n.(type) {
	case *dsl.Asset:
		return fmt.Sprintf("asset %q", v.Symbol)
	case *dsl.Group:
		return fmt.Sprintf("group %q", v.Label)
	case *dsl.WeightEqual:
		return "weight-equal"
	case *dsl.WeightSpecified:
		return "weight-specified"
	case *dsl.If:
		return "if"
	case *dsl.Filter:
		return "filter"
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("%T", n)
}

// Failure kinds reported by Classify.
const (
	KindParse               = "parse_error"
	KindInsufficientHistory = "insufficient_history"
	KindProvider            = "provider_error"
	KindInvalidIndicator    = "invalid_indicator"
	KindMalformedTree       = "malformed_tree"
	KindConfiguration       = "configuration_error"
	KindCycleAborted        = "cycle_aborted"
	KindCanceled            = "canceled"
	KindInternal            = "internal"
)

// Classify maps an error to a stable failure kind.
func Classify(err error) string {
	var (
		parseErr    *dsl.ParseError
		historyErr  *indicators.InsufficientHistoryError
		providerErr *indicators.ProviderError
		specErr     *indicators.InvalidSpecError
		treeErr     *MalformedTreeError
		configErr   *allocation.ConfigurationError
		abortedErr  *allocation.CycleAbortedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &abortedErr):
		return KindCycleAborted
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &historyErr):
		return KindInsufficientHistory
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &providerErr):
		return KindProvider
	case errors.As(err, &specErr):
		return KindInvalidIndicator
	case errors.As(err, &treeErr):
		return KindMalformedTree
	case errors.As(err, &configErr):
		return KindConfiguration
	}
	return KindInternal
}

// FailureInfo is the diagnosable description of a failed evaluation.
type FailureInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Symbol    string `json:"symbol,omitempty"`
	Indicator string `json:"indicator,omitempty"`
	Window    int    `json:"window,omitempty"`
}

// Describe builds a FailureInfo from err, or nil when err is nil.
func Describe(err error) *FailureInfo {
	if err == nil {
		return nil
	}
	info := &FailureInfo{Kind: Classify(err), Message: err.Error()}

	var (
		historyErr  *indicators.InsufficientHistoryError
		providerErr *indicators.ProviderError
		specErr     *indicators.InvalidSpecError
	)
	switch {
	case errors.As(err, &historyErr):
		info.Symbol, info.Indicator, info.Window = historyErr.Symbol, historyErr.Kind.String(), historyErr.Window
	case errors.As(err, &providerErr):
		info.Symbol, info.Indicator, info.Window = providerErr.Symbol, providerErr.Kind.String(), providerErr.Window
	case errors.As(err, &specErr):
		info.Symbol, info.Indicator, info.Window = specErr.Spec.Symbol, specErr.Spec.Kind.String(), specErr.Spec.Window
	}
	return info
}
