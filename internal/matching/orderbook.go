package matching

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/shopspring/decimal"

	"repello/internal/models"
)

// LevelView is one row of a depth snapshot: (price, total_quantity).
type LevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func decimalAscending(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func decimalDescending(a, b interface{}) int {
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

// Book is the two-sided price-indexed order book for one symbol,
// generalized from the teacher's OrderBook (which keyed redblacktree
// nodes by int64 cents) to decimal.Decimal keys, plus the StopBook
// pair that resolves spec.md §9 Open Question 1: a stop order resting
// in the book is invisible to price-time matching until triggered, so
// it lives in its own trigger-price-indexed trees instead of bids/asks.
type Book struct {
	Symbol string

	bids *redblacktree.Tree // price (desc) -> *PriceLevel
	asks *redblacktree.Tree // price (asc)  -> *PriceLevel

	orders map[string]*models.Order // order_id -> resting order, O(1) lookup

	// stopBuys is keyed descending: a BUY stop triggers once best_ask
	// is at or below its trigger price (trigger_price >= best_ask), so
	// the trigger price easiest to satisfy for a given ask — the
	// highest one — must surface first for PopTriggeredStops's
	// early-break scan to be sound.
	stopBuys *redblacktree.Tree // trigger price (desc) -> *PriceLevel, BUY stops
	// stopSells is keyed ascending for the mirrored reason: a SELL
	// stop triggers once best_bid is at or above its trigger price
	// (trigger_price <= best_bid), so the lowest trigger price is
	// easiest to satisfy first.
	stopSells *redblacktree.Tree // trigger price (asc) -> *PriceLevel, SELL stops
	stops     map[string]*models.Order
}

// NewBook constructs an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		Symbol:    symbol,
		bids:      redblacktree.NewWith(decimalDescending),
		asks:      redblacktree.NewWith(decimalAscending),
		orders:    make(map[string]*models.Order),
		stopBuys:  redblacktree.NewWith(decimalDescending),
		stopSells: redblacktree.NewWith(decimalAscending),
		stops:     make(map[string]*models.Order),
	}
}

func (b *Book) sideTree(side models.Side) *redblacktree.Tree {
	if side == models.Buy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting bid price, if any.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	node := b.bids.Left()
	if node == nil {
		return decimal.Zero, false
	}
	return node.Key.(decimal.Decimal), true
}

// BestAsk returns the lowest resting ask price, if any.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	node := b.asks.Left()
	if node == nil {
		return decimal.Zero, false
	}
	return node.Key.(decimal.Decimal), true
}

// BBO returns (best_bid, best_ask) as nullable decimals.
func (b *Book) BBO() (*decimal.Decimal, *decimal.Decimal) {
	var bid, ask *decimal.Decimal
	if p, ok := b.BestBid(); ok {
		bid = &p
	}
	if p, ok := b.BestAsk(); ok {
		ask = &p
	}
	return bid, ask
}

// BestBidQty returns the total resting quantity at the best bid, or 0.
func (b *Book) BestBidQty() decimal.Decimal {
	node := b.bids.Left()
	if node == nil {
		return decimal.Zero
	}
	return node.Value.(*PriceLevel).TotalQuantity
}

// BestAskQty returns the total resting quantity at the best ask, or 0.
func (b *Book) BestAskQty() decimal.Decimal {
	node := b.asks.Left()
	if node == nil {
		return decimal.Zero
	}
	return node.Value.(*PriceLevel).TotalQuantity
}

// Depth returns up to n levels per side, top of book outward.
func (b *Book) Depth(n int) (bids, asks []LevelView) {
	bids = levelsFromTree(b.bids, n)
	asks = levelsFromTree(b.asks, n)
	return bids, asks
}

func levelsFromTree(tree *redblacktree.Tree, n int) []LevelView {
	out := make([]LevelView, 0, n)
	it := tree.Iterator()
	it.Begin()
	for it.Next() {
		if n > 0 && len(out) >= n {
			break
		}
		level := it.Value().(*PriceLevel)
		out = append(out, LevelView{Price: level.Price, Quantity: level.TotalQuantity})
	}
	return out
}

// levelAt returns the level at price on tree, creating it if absent.
func levelAt(tree *redblacktree.Tree, price decimal.Decimal) *PriceLevel {
	if v, found := tree.Get(price); found {
		return v.(*PriceLevel)
	}
	level := NewPriceLevel(price)
	tree.Put(price, level)
	return level
}

// Add inserts a resting order into the book. Duplicate ids are
// rejected, per spec.md §4.2. An order with no fills yet becomes OPEN;
// a partially filled remainder keeps PARTIALLY_FILLED.
func (b *Book) Add(order *models.Order) error {
	if _, exists := b.orders[order.ID]; exists {
		return models.ErrDuplicateOrderID
	}
	tree := b.sideTree(order.Side)
	level := levelAt(tree, *order.Price)
	level.Add(order)
	b.orders[order.ID] = order
	if order.FilledQuantity.IsZero() {
		order.Status = models.Open
	} else {
		order.Status = models.PartiallyFilled
	}
	return nil
}

// Remove drops order_id from its level and the id map. The owning
// level is removed from the tree immediately if it becomes empty, per
// spec.md §4.2's "no empty levels may survive any public operation".
// Returns nil if the id is unknown.
func (b *Book) Remove(orderID string) *models.Order {
	order, ok := b.orders[orderID]
	if !ok {
		return nil
	}
	delete(b.orders, orderID)

	tree := b.sideTree(order.Side)
	if v, found := tree.Get(*order.Price); found {
		v.(*PriceLevel).Remove(orderID)
		dropIfEmpty(tree, *order.Price)
	}
	order.Status = models.Cancelled
	return order
}

// dropIfEmpty removes the level at price from tree if it has gone
// empty after a fill, keeping spec.md §4.2's no-empty-levels invariant.
func dropIfEmpty(tree *redblacktree.Tree, price decimal.Decimal) {
	if v, found := tree.Get(price); found {
		if v.(*PriceLevel).Empty() {
			tree.Remove(price)
		}
	}
}

// CanMatch reports whether there is a top of the opposite side and
// the order crosses it: MARKET always crosses if liquidity exists; a
// limit-like order crosses when its price is at least as aggressive
// as the opposite top, per spec.md §4.2.
func (b *Book) CanMatch(order *models.Order) bool {
	if order.Side == models.Buy {
		ask, ok := b.BestAsk()
		if !ok {
			return false
		}
		return order.Price == nil || order.Price.Cmp(ask) >= 0
	}
	bid, ok := b.BestBid()
	if !ok {
		return false
	}
	return order.Price == nil || order.Price.Cmp(bid) <= 0
}

// AddStop rests a triggered-never-yet stop order in the side's
// trigger-price tree.
func (b *Book) AddStop(order *models.Order) {
	var tree *redblacktree.Tree
	if order.Side == models.Buy {
		tree = b.stopBuys
	} else {
		tree = b.stopSells
	}
	level := levelAt(tree, *order.StopPrice)
	level.Add(order)
	b.stops[order.ID] = order
}

// RemoveStop removes a resting stop order by id, if present.
func (b *Book) RemoveStop(orderID string) *models.Order {
	order, ok := b.stops[orderID]
	if !ok {
		return nil
	}
	delete(b.stops, orderID)
	var tree *redblacktree.Tree
	if order.Side == models.Buy {
		tree = b.stopBuys
	} else {
		tree = b.stopSells
	}
	if v, found := tree.Get(*order.StopPrice); found {
		v.(*PriceLevel).Remove(orderID)
		dropIfEmpty(tree, *order.StopPrice)
	}
	order.Status = models.Cancelled
	return order
}

// PopTriggeredStops pulls every resting stop order whose trigger
// condition is now satisfied by the current BBO out of the stop book,
// in price-time priority, and returns them for re-submission. This is
// the continuous re-evaluation spec.md §9 Open Question 1 calls for:
// the reference implementation only checked the trigger once, at
// entry; this book checks it again after every BBO-changing event.
func (b *Book) PopTriggeredStops() []*models.Order {
	var triggered []*models.Order

	if ask, ok := b.BestAsk(); ok {
		for {
			node := b.stopBuys.Left()
			if node == nil {
				break
			}
			stopPrice := node.Key.(decimal.Decimal)
			if stopPrice.Cmp(ask) < 0 {
				break // descending tree: nothing further can trigger yet
			}
			level := node.Value.(*PriceLevel)
			order := level.PopHead()
			if order == nil {
				b.stopBuys.Remove(stopPrice)
				continue
			}
			delete(b.stops, order.ID)
			if level.Empty() {
				b.stopBuys.Remove(stopPrice)
			}
			triggered = append(triggered, order)
		}
	}

	if bid, ok := b.BestBid(); ok {
		for {
			node := b.stopSells.Left()
			if node == nil {
				break
			}
			stopPrice := node.Key.(decimal.Decimal)
			if stopPrice.Cmp(bid) > 0 {
				break // ascending tree: nothing further can trigger yet
			}
			level := node.Value.(*PriceLevel)
			order := level.PopHead()
			if order == nil {
				b.stopSells.Remove(stopPrice)
				continue
			}
			delete(b.stops, order.ID)
			if level.Empty() {
				b.stopSells.Remove(stopPrice)
			}
			triggered = append(triggered, order)
		}
	}

	return triggered
}

// Empty reports whether both sides of the book have no resting orders.
func (b *Book) Empty() bool {
	return b.bids.Empty() && b.asks.Empty()
}
