package value

import (
	"math"

	"github.com/shopspring/decimal"
)

// FormatPrice renders a price with two decimals, or "-" for zero/max.
func FormatPrice(p float64) string {
	if p == math.MaxFloat64 || p == 0 || math.IsNaN(p) {
		return "-"
	}
	return decimal.NewFromFloat(p).StringFixed(2)
}

// ChangePercent returns the percent change from prev to last rounded to two
// decimals, e.g. 9.8 for a 9.8% gain. ok is false when prev is not positive.
func ChangePercent(last, prev float64) (pct decimal.Decimal, ok bool) {
	if prev <= 0 {
		return decimal.Zero, false
	}
	l := decimal.NewFromFloat(last)
	p := decimal.NewFromFloat(prev)
	return l.Sub(p).Div(p).Shift(2).Round(2), true
}
