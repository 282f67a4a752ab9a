package indicators

import "github.com/shopspring/decimal"

// Precision is the number of fractional digits kept after every division.
// Fixing it makes results reproducible bit for bit across runs and hosts.
const Precision int32 = 18

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Precision)
}

// Mean returns the arithmetic mean of values, zero for an empty slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return div(decimal.Sum(decimal.Zero, values...), decimal.NewFromInt(int64(len(values))))
}

// WilderRSI computes the relative strength index of closes with Wilder
// smoothing over window periods. The first average is the simple mean of the
// first window changes; every later change is folded in as
// avg = (avg*(window-1) + x) / window. closes must hold at least window+1 values.
func WilderRSI(closes []decimal.Decimal, window int) decimal.Decimal {
	n := decimal.NewFromInt(int64(window))
	nMinus1 := decimal.NewFromInt(int64(window - 1))

	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i <= window; i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			gain = gain.Add(delta)
		} else {
			loss = loss.Sub(delta)
		}
	}
	avgGain := div(gain, n)
	avgLoss := div(loss, n)

	for i := window + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		g, l := decimal.Zero, decimal.Zero
		if delta.IsPositive() {
			g = delta
		} else {
			l = delta.Neg()
		}
		avgGain = div(avgGain.Mul(nMinus1).Add(g), n)
		avgLoss = div(avgLoss.Mul(nMinus1).Add(l), n)
	}

	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50)
		}
		return hundred
	}
	rs := div(avgGain, avgLoss)
	return hundred.Sub(div(hundred, one.Add(rs)))
}

// CumulativeReturnPct returns the percentage change from the first to the
// last close.
func CumulativeReturnPct(closes []decimal.Decimal) decimal.Decimal {
	first := closes[0]
	if first.IsZero() {
		return decimal.Zero
	}
	return div(closes[len(closes)-1], first).Sub(one).Mul(hundred)
}

// MeanReturnPct returns the mean simple period return across closes, in percent.
func MeanReturnPct(closes []decimal.Decimal) decimal.Decimal {
	returns := make([]decimal.Decimal, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev.IsZero() {
			returns = append(returns, decimal.Zero)
			continue
		}
		returns = append(returns, div(closes[i], prev).Sub(one))
	}
	return Mean(returns).Mul(hundred)
}

// EMA returns the exponential moving average of closes. The series is seeded
// with the simple mean of the first window closes and smoothed with
// k = 2/(window+1) over the rest. With exactly window closes it is the SMA.
func EMA(closes []decimal.Decimal, window int) decimal.Decimal {
	ema := Mean(closes[:window])
	k := div(two, decimal.NewFromInt(int64(window+1)))
	for _, c := range closes[window:] {
		ema = c.Sub(ema).Mul(k).Add(ema).Round(Precision)
	}
	return ema
}

// PopStdDev returns the population standard deviation of values.
func PopStdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	mean := Mean(values)
	sumSq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	return Sqrt(div(sumSq, decimal.NewFromInt(int64(len(values)))))
}

// MaxDrawdownPct returns the deepest fall from a running peak across closes
// as a non-negative percentage.
func MaxDrawdownPct(closes []decimal.Decimal) decimal.Decimal {
	maxDD := decimal.Zero
	peak := closes[0]
	for _, c := range closes {
		if c.GreaterThan(peak) {
			peak = c
		}
		if !peak.IsPositive() {
			continue
		}
		dd := one.Sub(div(c, peak))
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.Mul(hundred)
}

// Sqrt computes the square root of x with Newton iteration in decimal
// arithmetic. Negative and zero inputs return zero.
func Sqrt(x decimal.Decimal) decimal.Decimal {
	if !x.IsPositive() {
		return decimal.Zero
	}
	z := one
	if x.GreaterThan(one) {
		z = x
	}
	for i := 0; i < 256; i++ {
		next := z.Add(x.DivRound(z, Precision+4)).DivRound(two, Precision+4)
		if next.Equal(z) {
			break
		}
		z = next
	}
	return z.Round(Precision)
}
