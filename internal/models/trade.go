package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one fill, per spec.md §3.
type Trade struct {
	ID            string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	AggressorSide Side            `json:"aggressor_side"`
	MakerOrderID  string          `json:"maker_order_id"`
	TakerOrderID  string          `json:"taker_order_id"`
	Timestamp     int64           `json:"timestamp"`
	MakerFee      decimal.Decimal `json:"maker_fee"`
	TakerFee      decimal.Decimal `json:"taker_fee"`
}

// NewTrade constructs a Trade with a fresh 128-bit id, per spec.md §9
// note 4. Producing a trade never mutates maker or taker.
func NewTrade(symbol string, price, quantity decimal.Decimal, aggressorSide Side, makerOrderID, takerOrderID string, makerFee, takerFee decimal.Decimal) *Trade {
	return &Trade{
		ID:            uuid.New().String(),
		Symbol:        symbol,
		Price:         price,
		Quantity:      quantity,
		AggressorSide: aggressorSide,
		MakerOrderID:  makerOrderID,
		TakerOrderID:  takerOrderID,
		Timestamp:     time.Now().UnixNano(),
		MakerFee:      makerFee,
		TakerFee:      takerFee,
	}
}

func (t *Trade) String() string {
	return fmt.Sprintf("Trade[ID=%s Symbol=%s Price=%s Qty=%s Aggressor=%s Maker=%s Taker=%s]",
		t.ID, t.Symbol, t.Price, t.Quantity, t.AggressorSide, t.MakerOrderID, t.TakerOrderID)
}
