package marketdata

import (
	"fmt"
	"math"

	"github.com/aristath/symphony/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// DefaultOutlierZ is the return z-score above which a bar is flagged.
const DefaultOutlierZ = 6.0

// Issue is one data quality warning.
type Issue struct {
	Index   int    `json:"index"`
	Date    string `json:"date"`
	Problem string `json:"problem"`
}

// CheckQuality inspects bars ordered oldest first and reports problems that
// would distort indicators: non-positive closes, high below low, dates out
// of order or repeated, and daily returns whose z-score exceeds maxZ.
// Float math is fine here; the result is only a warning.
func CheckQuality(bars []domain.Bar, maxZ float64) []Issue {
	if maxZ <= 0 {
		maxZ = DefaultOutlierZ
	}

	var issues []Issue
	report := func(i int, format string, args ...interface{}) {
		issues = append(issues, Issue{
			Index:   i,
			Date:    bars[i].Date.Format(DateLayout),
			Problem: fmt.Sprintf(format, args...),
		})
	}

	returns := make([]float64, 0, len(bars))
	returnIndex := make([]int, 0, len(bars))
	for i, b := range bars {
		if !b.Close.IsPositive() {
			report(i, "non-positive close %s", b.Close)
		}
		if b.High.LessThan(b.Low) {
			report(i, "high %s below low %s", b.High, b.Low)
		}
		if i == 0 {
			continue
		}
		if !b.Date.After(bars[i-1].Date) {
			report(i, "date not after previous bar")
		}
		prev := bars[i-1].Close
		if prev.IsPositive() && b.Close.IsPositive() {
			r, _ := b.Close.Div(prev).Float64()
			returns = append(returns, math.Log(r))
			returnIndex = append(returnIndex, i)
		}
	}

	if len(returns) < 3 {
		return issues
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return issues
	}
	for k, r := range returns {
		if z := stat.StdScore(r, mean, std); math.Abs(z) > maxZ {
			report(returnIndex[k], "return outlier z=%.1f", z)
		}
	}
	return issues
}
