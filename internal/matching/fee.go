package matching

import (
	"github.com/shopspring/decimal"

	"repello/internal/money"
)

// Default maker/taker rates, per spec.md §4.4 and
// original_source/src/fee_calculator.py / config.py.
var (
	DefaultMakerFeeRate = decimal.NewFromFloat(0.001)
	DefaultTakerFeeRate = decimal.NewFromFloat(0.002)
)

// FeeCalculator is pure and read-only once constructed; it may be
// shared freely across symbols (spec.md §5).
type FeeCalculator struct {
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal
}

// NewFeeCalculator mirrors original_source/src/fee_calculator.py's
// FeeCalculator.__init__, falling back to the package defaults.
func NewFeeCalculator(makerRate, takerRate decimal.Decimal) *FeeCalculator {
	if makerRate.IsZero() {
		makerRate = DefaultMakerFeeRate
	}
	if takerRate.IsZero() {
		takerRate = DefaultTakerFeeRate
	}
	return &FeeCalculator{MakerFeeRate: makerRate, TakerFeeRate: takerRate}
}

// MakerFee computes fee = notional × maker_rate.
func (f *FeeCalculator) MakerFee(price, quantity decimal.Decimal) decimal.Decimal {
	return money.Round(money.Notional(price, quantity).Mul(f.MakerFeeRate))
}

// TakerFee computes fee = notional × taker_rate.
func (f *FeeCalculator) TakerFee(price, quantity decimal.Decimal) decimal.Decimal {
	return money.Round(money.Notional(price, quantity).Mul(f.TakerFeeRate))
}
