package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	d := decimal.RequireFromString("1.123456789")
	assert.True(t, Round(d).Equal(decimal.RequireFromString("1.12345679")))
}

func TestParse(t *testing.T) {
	d, err := Parse("10.5")
	assert.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("10.5")))

	_, err = Parse("not-a-number")
	assert.Error(t, err)

	_, err = Parse("-1")
	assert.Error(t, err)
}

func TestNotional(t *testing.T) {
	price := decimal.RequireFromString("100.5")
	qty := decimal.RequireFromString("2")
	assert.True(t, Notional(price, qty).Equal(decimal.RequireFromString("201")))
}
