// Package indicators computes technical indicator values over decimal price
// history for the symphony evaluator.
package indicators

import "fmt"

// Kind identifies an indicator function.
type Kind int

const (
	RSI Kind = iota + 1
	CumulativeReturn
	MovingAverageReturn
	MovingAveragePrice
	ExponentialMovingAveragePrice
	CurrentPrice
	StdevPrice
	MaxDrawdown
)

var kindNames = map[Kind]string{
	RSI:                           "rsi",
	CumulativeReturn:              "cumulative-return",
	MovingAverageReturn:           "moving-average-return",
	MovingAveragePrice:            "moving-average-price",
	ExponentialMovingAveragePrice: "exponential-moving-average-price",
	CurrentPrice:                  "current-price",
	StdevPrice:                    "stdev-price",
	MaxDrawdown:                   "max-drawdown",
}

// Kinds lists every supported indicator in declaration order.
func Kinds() []Kind {
	return []Kind{
		RSI,
		CumulativeReturn,
		MovingAverageReturn,
		MovingAveragePrice,
		ExponentialMovingAveragePrice,
		CurrentPrice,
		StdevPrice,
		MaxDrawdown,
	}
}

// String returns the DSL name of the indicator.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a DSL indicator name. Underscored spellings are accepted.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name || underscored(n) == name {
			return k, true
		}
	}
	return 0, false
}

// TakesWindow reports whether the indicator is parameterised by a lookback window.
func (k Kind) TakesWindow() bool {
	return k != CurrentPrice
}

// Required returns the number of bars the indicator needs for the given window.
func (k Kind) Required(window int) int {
	switch k {
	case RSI, CumulativeReturn, MovingAverageReturn:
		return window + 1
	case CurrentPrice:
		return 1
	default:
		return window
	}
}

// lookback returns how many bars to request from the provider. Smoothed
// indicators ask for warm-up history beyond the minimum.
func (k Kind) lookback(window int) int {
	switch k {
	case RSI:
		return warmupFactor*window + 1
	case ExponentialMovingAveragePrice:
		return warmupFactor * window
	default:
		return k.Required(window)
	}
}

func underscored(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}

// MarshalText encodes the kind by its DSL name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a DSL indicator name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown indicator kind %q", text)
	}
	*k = parsed
	return nil
}
