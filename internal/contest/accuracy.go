package contest

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Accuracy scores a prediction against the actual price. A zero actual price scores 0.
// The result is capped at 100 (exact hit) and unbounded below.
func Accuracy(predicted, actual decimal.Decimal) float64 {
	if actual.IsZero() {
		return 0
	}
	miss := predicted.Sub(actual).Abs().Div(actual).Mul(hundred)
	return hundred.Sub(miss).InexactFloat64()
}
