// Package money provides the fixed-precision decimal context shared by
// every price, quantity, and fee in the matching core. No floating
// point is used on the hot path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits the context rounds to.
// 8 places covers the scaled-fixed-point alternative spec.md §9 allows
// and is enough headroom for the 10-significant-digit requirement on
// typical exchange-scale prices.
var Places int32 = 8

// Zero is the shared zero-value decimal.
var Zero = decimal.Zero

// Round applies the context's rounding mode (round-half-up, via
// decimal.Decimal.Round which rounds half away from zero — equivalent
// to ROUND_HALF_UP across this engine's all-positive domain) at the
// configured precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse converts a wire string into a decimal, rejecting malformed or
// negative input. Prices, quantities, and stop prices all funnel
// through this at the submitter boundary.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return Zero, fmt.Errorf("invalid decimal %q: must not be negative", s)
	}
	return Round(d), nil
}

// Notional computes price × quantity at the context's precision.
func Notional(price, quantity decimal.Decimal) decimal.Decimal {
	return Round(price.Mul(quantity))
}
