package strategy

import "github.com/shopspring/decimal"

// Threshold comparisons go through decimal so that e.g. a 0.1% pullback from
// 100 to 99.9 measures as exactly 0.1 instead of a float64 hair under it.

var decHundred = decimal.NewFromInt(100)

func decFromFloat(val float64) decimal.Decimal {
	return decimal.NewFromFloat(val)
}

// dropPercent returns how far to sits below from, in percent. Zero when from
// is not positive or to is at or above from.
func dropPercent(from, to float64) float64 {
	if from <= 0 || to >= from {
		return 0
	}
	f := decFromFloat(from)
	d := f.Sub(decFromFloat(to)).Div(f).Mul(decHundred)
	out, _ := d.Float64()
	return out
}

// gainPercent returns how far price sits above entry, in percent. Zero when
// entry is not positive or price is at or below entry.
func gainPercent(entry, price float64) float64 {
	if entry <= 0 || price <= entry {
		return 0
	}
	e := decFromFloat(entry)
	d := decFromFloat(price).Sub(e).Div(e).Mul(decHundred)
	out, _ := d.Float64()
	return out
}
