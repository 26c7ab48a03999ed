package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestValidate_RejectsNonPositiveQuantity(t *testing.T) {
	o := New("o1", "BTCUSD", Buy, Market, decimal.Zero, nil, nil)
	assert.ErrorIs(t, o.Validate(), ErrValidation)
}

func TestValidate_LimitRequiresPrice(t *testing.T) {
	o := New("o1", "BTCUSD", Buy, Limit, decimal.RequireFromString("1"), nil, nil)
	assert.ErrorIs(t, o.Validate(), ErrValidation)

	o2 := New("o2", "BTCUSD", Buy, Limit, decimal.RequireFromString("1"), price("100"), nil)
	assert.NoError(t, o2.Validate())
}

func TestValidate_StopRequiresStopPrice(t *testing.T) {
	o := New("o1", "BTCUSD", Buy, StopLoss, decimal.RequireFromString("1"), nil, nil)
	assert.ErrorIs(t, o.Validate(), ErrValidation)

	o2 := New("o2", "BTCUSD", Buy, StopLoss, decimal.RequireFromString("1"), nil, price("100"))
	assert.NoError(t, o2.Validate())
}

func TestApplyFill_PartialThenFull(t *testing.T) {
	o := New("o1", "BTCUSD", Buy, Limit, decimal.RequireFromString("10"), price("100"), nil)

	o.ApplyFill(decimal.RequireFromString("4"))
	assert.Equal(t, PartiallyFilled, o.Status)
	assert.True(t, o.RemainingQuantity.Equal(decimal.RequireFromString("6")))

	o.ApplyFill(decimal.RequireFromString("6"))
	assert.Equal(t, Filled, o.Status)
	assert.True(t, o.RemainingQuantity.IsZero())
}

func TestOrderType_IsStop(t *testing.T) {
	assert.True(t, StopLoss.IsStop())
	assert.True(t, StopLimit.IsStop())
	assert.True(t, TakeProfit.IsStop())
	assert.False(t, Limit.IsStop())
	assert.False(t, Market.IsStop())
}

func TestOrderStatus_JSONRoundTrip(t *testing.T) {
	for _, s := range []OrderStatus{Pending, Open, PartiallyFilled, Filled, Cancelled, Rejected} {
		data, err := s.MarshalJSON()
		assert.NoError(t, err)

		var got OrderStatus
		assert.NoError(t, got.UnmarshalJSON(data))
		assert.Equal(t, s, got)
	}
}
