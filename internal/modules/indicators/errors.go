package indicators

import "fmt"

// InsufficientHistoryError reports that the provider returned fewer bars than
// the indicator window requires.
type InsufficientHistoryError struct {
	Symbol    string
	Kind      Kind
	Window    int
	Required  int
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s(%s, window=%d): need %d bars, have %d",
		e.Kind, e.Symbol, e.Window, e.Required, e.Available)
}

// ProviderError wraps a failure of the price-history provider.
type ProviderError struct {
	Symbol string
	Kind   Kind
	Window int
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("price history for %s(%s, window=%d): %v", e.Kind, e.Symbol, e.Window, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// InvalidSpecError reports an indicator request that can never be satisfied.
type InvalidSpecError struct {
	Spec   Spec
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid indicator %s: %s", e.Spec, e.Reason)
}
