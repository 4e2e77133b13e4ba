package bybit

import (
	"github.com/shopspring/decimal"
)

// NormalizeQty floors qty to the instrument's step size and renders it
// without a floating-point tail. A zero or negative step passes the value
// through with full precision trimming only.
func NormalizeQty(qty, step float64) string {
	d := decimal.NewFromFloat(qty)
	if step > 0 {
		s := decimal.NewFromFloat(step)
		d = d.Div(s).Floor().Mul(s)
	}
	return d.String()
}

// NormalizePrice rounds price to the instrument's tick size and renders it
// without a floating-point tail.
func NormalizePrice(price, tick float64) string {
	d := decimal.NewFromFloat(price)
	if tick > 0 {
		t := decimal.NewFromFloat(tick)
		d = d.Div(t).Round(0).Mul(t)
	}
	return d.String()
}

// FlooredQty returns the step-floored quantity as a float for zero checks
// before submission.
func FlooredQty(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	d := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}
