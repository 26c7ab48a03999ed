package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"repello/internal/models"
	"repello/internal/money"
)

// PriceLevel is a FIFO queue of resting orders at a single price,
// generalized from the teacher's inline `PriceLevel []*models.Order`
// slice mutation into the independent type spec.md §4.1 calls for,
// with its own cached TotalQuantity kept in sync on every mutation.
type PriceLevel struct {
	Price         decimal.Decimal
	orders        []*models.Order
	TotalQuantity decimal.Decimal
}

// NewPriceLevel creates an empty level at price.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, TotalQuantity: decimal.Zero}
}

// Add appends order and folds its remaining quantity into the cache.
func (pl *PriceLevel) Add(order *models.Order) {
	pl.orders = append(pl.orders, order)
	pl.TotalQuantity = money.Round(pl.TotalQuantity.Add(order.RemainingQuantity))
}

// Peek returns the FIFO head without removing it, or nil if empty.
func (pl *PriceLevel) Peek() *models.Order {
	if len(pl.orders) == 0 {
		return nil
	}
	return pl.orders[0]
}

// PopHead removes the FIFO head and subtracts its remaining quantity.
func (pl *PriceLevel) PopHead() *models.Order {
	if len(pl.orders) == 0 {
		return nil
	}
	head := pl.orders[0]
	pl.orders = pl.orders[1:]
	pl.TotalQuantity = money.Round(pl.TotalQuantity.Sub(head.RemainingQuantity))
	pl.checkInvariant()
	return head
}

// Remove scans for a specific order and removes it, subtracting its
// current remaining quantity. Fails silently if absent, per spec.md §4.1.
func (pl *PriceLevel) Remove(orderID string) {
	for i, o := range pl.orders {
		if o.ID == orderID {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			pl.TotalQuantity = money.Round(pl.TotalQuantity.Sub(o.RemainingQuantity))
			pl.checkInvariant()
			return
		}
	}
}

// Adjust applies a remaining_quantity delta to the cache when the head
// order is partially consumed without being popped.
func (pl *PriceLevel) Adjust(delta decimal.Decimal) {
	pl.TotalQuantity = money.Round(pl.TotalQuantity.Add(delta))
	pl.checkInvariant()
}

// checkInvariant panics with models.ErrInconsistentState if the level's
// cached total went negative, per spec.md §7/§8's level-integrity
// invariant — this must never be silently clamped, since that would
// mask a bookkeeping bug as normal operation. The panic is caught and
// logged at MatchingEngine's dispatch boundary.
func (pl *PriceLevel) checkInvariant() {
	if pl.TotalQuantity.IsNegative() {
		panic(fmt.Errorf("%w: price level %s total_quantity went negative (%s)",
			models.ErrInconsistentState, pl.Price, pl.TotalQuantity))
	}
}

// Empty reports whether the level has no resting orders. Empty levels
// must never survive across a public Book operation (spec.md §4.2).
func (pl *PriceLevel) Empty() bool {
	return len(pl.orders) == 0
}

// Len returns the number of resting orders.
func (pl *PriceLevel) Len() int {
	return len(pl.orders)
}

// Orders returns the FIFO slice read-only; callers must not mutate it.
func (pl *PriceLevel) Orders() []*models.Order {
	return pl.orders
}
