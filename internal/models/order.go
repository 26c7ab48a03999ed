package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"repello/internal/money"
)

// Side represents the side of an order (Buy or Sell).
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Side) UnmarshalJSON(data []byte) error {
	switch unquote(data) {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("unknown side: %s", unquote(data))
	}
	return nil
}

// OrderType represents the seven order variants the engine routes.
// STOP_LOSS and STOP_LIMIT/TAKE_PROFIT are rewritten to MARKET/LIMIT
// in place once their trigger fires (spec.md §4.3.4).
type OrderType int

const (
	Market OrderType = iota
	Limit
	IOC
	FOK
	StopLoss
	StopLimit
	TakeProfit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	case StopLoss:
		return "stop_loss"
	case StopLimit:
		return "stop_limit"
	case TakeProfit:
		return "take_profit"
	default:
		return "unknown"
	}
}

func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *OrderType) UnmarshalJSON(data []byte) error {
	switch unquote(data) {
	case "market":
		*t = Market
	case "limit":
		*t = Limit
	case "ioc":
		*t = IOC
	case "fok":
		*t = FOK
	case "stop_loss":
		*t = StopLoss
	case "stop_limit":
		*t = StopLimit
	case "take_profit":
		*t = TakeProfit
	default:
		return fmt.Errorf("unknown order type: %s", unquote(data))
	}
	return nil
}

// IsStop reports whether the type is one of the three stop variants.
func (t OrderType) IsStop() bool {
	return t == StopLoss || t == StopLimit || t == TakeProfit
}

// OrderStatus represents the state of an order.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	switch unquote(data) {
	case "pending":
		*s = Pending
	case "open":
		*s = Open
	case "partially_filled":
		*s = PartiallyFilled
	case "filled":
		*s = Filled
	case "cancelled":
		*s = Cancelled
	case "rejected":
		*s = Rejected
	default:
		return fmt.Errorf("unknown order status: %s", unquote(data))
	}
	return nil
}

// IsTerminal reports whether the status cannot transition further.
func (s OrderStatus) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

func unquote(data []byte) string {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		return str[1 : len(str)-1]
	}
	return str
}

// Order is the mutable record owned by either the submitter during
// processing or by exactly one PriceLevel while resting.
type Order struct {
	ID                string           `json:"order_id"`
	Symbol            string           `json:"symbol"`
	Side              Side             `json:"side"`
	Type              OrderType        `json:"type"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	StopPrice         *decimal.Decimal `json:"stop_price,omitempty"`
	Timestamp         int64            `json:"timestamp"`
	Status            OrderStatus      `json:"status"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	Owner             string           `json:"owner,omitempty"`
}

// New constructs a PENDING order with remaining_quantity seeded from
// quantity, matching the lifecycle in spec.md §3.
func New(id, symbol string, side Side, orderType OrderType, quantity decimal.Decimal, price, stopPrice *decimal.Decimal) *Order {
	return &Order{
		ID:                id,
		Symbol:            symbol,
		Side:              side,
		Type:              orderType,
		Quantity:          quantity,
		Price:             price,
		StopPrice:         stopPrice,
		Timestamp:         time.Now().UnixNano(),
		Status:            Pending,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: quantity,
	}
}

// Validate rejects quantity <=0, LIMIT/STOP_LIMIT without price, and
// any stop variant without stop_price, per spec.md §4.3.1.
func (o *Order) Validate() error {
	if o.Quantity.Sign() <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if (o.Type == Limit || o.Type == StopLimit) && o.Price == nil {
		return fmt.Errorf("%w: %s order requires a price", ErrValidation, o.Type)
	}
	if o.Type.IsStop() && o.StopPrice == nil {
		return fmt.Errorf("%w: %s order requires a stop_price", ErrValidation, o.Type)
	}
	return nil
}

// ApplyFill updates filled/remaining quantity and advances status,
// matching original_source/src/order.py's update_fill.
func (o *Order) ApplyFill(quantity decimal.Decimal) {
	o.FilledQuantity = money.Round(o.FilledQuantity.Add(quantity))
	o.RemainingQuantity = money.Round(o.RemainingQuantity.Sub(quantity))
	if o.RemainingQuantity.Sign() <= 0 {
		o.RemainingQuantity = decimal.Zero
		o.Status = Filled
	} else if o.FilledQuantity.Sign() > 0 {
		o.Status = PartiallyFilled
	}
}

func (o *Order) String() string {
	price := "nil"
	if o.Price != nil {
		price = o.Price.String()
	}
	return fmt.Sprintf("Order[ID=%s Symbol=%s Side=%s Type=%s Price=%s Qty=%s/%s Status=%s]",
		o.ID, o.Symbol, o.Side, o.Type, price, o.RemainingQuantity, o.Quantity, o.Status)
}
