package matching

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"repello/internal/metrics"
	"repello/internal/models"
)

// EventSink is the engine's injected publication surface. Emission must
// never block the critical section (spec.md §5); concrete
// implementations (internal/events.Dispatcher) hand events off to an
// async dispatcher instead of doing I/O inline.
type EventSink interface {
	EmitTrade(trade *models.Trade)
	EmitBBO(update BBOUpdate)
}

// BBOUpdate is the event published after every trade-producing or
// book-changing process call, per spec.md §6.
type BBOUpdate struct {
	Timestamp       int64
	Symbol          string
	BestBid         *decimal.Decimal
	BestAsk         *decimal.Decimal
	BestBidQuantity decimal.Decimal
	BestAskQuantity decimal.Decimal
	Bids            []LevelView
	Asks            []LevelView
}

// Snapshot is the response shape for MatchingEngine.Snapshot, per
// spec.md §6.
type Snapshot struct {
	Timestamp int64
	Symbol    string
	Bids      []LevelView
	Asks      []LevelView
	BestBid   *decimal.Decimal
	BestAsk   *decimal.Decimal
}

// MatchingEngine is the per-symbol state machine: validate, route,
// match, and post-process orders of all seven types. All mutation
// flows through Process and Cancel, which hold mu for their duration —
// the single-writer-per-symbol model of spec.md §5.
//
// Structurally this generalizes the teacher's Engine.ProcessOrder /
// processLimitOrder / processMarketOrder / executeTrade (LIMIT+MARKET
// only) to all seven types, with FOK precomputed-liquidity atomicity
// and stop-order triggering grounded on
// original_source/src/matching_engine.py.
type MatchingEngine struct {
	symbol   string
	book     *Book
	fees     *FeeCalculator
	sink     EventSink
	metrics  *metrics.Metrics
	mu       sync.Mutex
	poisoned atomic.Bool
}

// NewMatchingEngine constructs the book for symbol.
func NewMatchingEngine(symbol string, fees *FeeCalculator, sink EventSink, m *metrics.Metrics) *MatchingEngine {
	return &MatchingEngine{
		symbol:  symbol,
		book:    NewBook(symbol),
		fees:    fees,
		sink:    sink,
		metrics: m,
	}
}

// Process validates, routes, matches, and post-processes order,
// returning the trades it produced.
func (m *MatchingEngine) Process(order *models.Order) (trades []*models.Trade, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned.Load() {
		return nil, fmt.Errorf("%w: %s engine poisoned by a prior invariant violation", models.ErrInconsistentState, m.symbol)
	}
	defer m.recoverInvariant(&trades, &err)

	trades, err = m.dispatch(order)
	trades = append(trades, m.reevaluateStops()...)

	if tradeCount := int64(len(trades)); tradeCount > 0 {
		m.metrics.IncTradesExecuted(tradeCount)
		m.metrics.IncOrdersMatched(tradeCount + 1)
	}
	return trades, err
}

// Cancel removes order_id from either the resting book or the stop
// book. Returns (nil, ErrUnknownOrder) if the id is not present —
// spec.md §7's soft UnknownOrder failure, no state change.
func (m *MatchingEngine) Cancel(orderID string) (order *models.Order, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned.Load() {
		return nil, fmt.Errorf("%w: %s engine poisoned by a prior invariant violation", models.ErrInconsistentState, m.symbol)
	}
	defer m.recoverInvariant(nil, &err)

	if order = m.book.Remove(orderID); order != nil {
		m.metrics.IncOrdersCancelled()
		m.metrics.DecOrdersInBook()
		m.emitBBO()
		return order, nil
	}
	if order = m.book.RemoveStop(orderID); order != nil {
		m.metrics.IncOrdersCancelled()
		m.metrics.DecOrdersInBook()
		return order, nil
	}
	return nil, models.ErrUnknownOrder
}

// recoverInvariant catches a panic raised by a broken book invariant
// (spec.md §7: "InconsistentState... must be fatal: the engine
// terminates to avoid silent corruption"). Since a single process hosts
// every symbol's engine, "terminates" means poisoning this symbol alone:
// every later call fails fast with ErrInconsistentState instead of
// operating on a book that may already be corrupted. trades may be nil
// when the caller has nothing to zero (Cancel).
func (m *MatchingEngine) recoverInvariant(trades *[]*models.Trade, err *error) {
	if r := recover(); r != nil {
		m.poisoned.Store(true)
		log.Error().Str("symbol", m.symbol).Interface("panic", r).
			Msg("book invariant violated, engine poisoned")
		if trades != nil {
			*trades = nil
		}
		*err = fmt.Errorf("%w: %v", models.ErrInconsistentState, r)
	}
}

// Snapshot returns a point-in-time view of the book, up to depth
// levels per side.
func (m *MatchingEngine) Snapshot(depth int) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	bids, asks := m.book.Depth(depth)
	bid, ask := m.book.BBO()
	return Snapshot{
		Timestamp: time.Now().UnixNano(),
		Symbol:    m.symbol,
		Bids:      bids,
		Asks:      asks,
		BestBid:   bid,
		BestAsk:   ask,
	}
}

// dispatch validates and routes a freshly submitted order (spec.md
// §4.3.1–4.3.2). Caller must hold mu.
func (m *MatchingEngine) dispatch(order *models.Order) ([]*models.Trade, error) {
	if err := order.Validate(); err != nil {
		order.Status = models.Rejected
		return nil, err
	}
	if _, exists := m.book.orders[order.ID]; exists {
		order.Status = models.Rejected
		return nil, models.ErrDuplicateOrderID
	}
	if _, exists := m.book.stops[order.ID]; exists {
		order.Status = models.Rejected
		return nil, models.ErrDuplicateOrderID
	}

	if order.Type.IsStop() {
		return m.routeStop(order)
	}
	return m.routeResting(order)
}

// routeStop implements spec.md §4.3.4: compare stop_price to the
// relevant side of the current BBO; if triggered, mutate the order in
// place (STOP_LOSS→MARKET, STOP_LIMIT/TAKE_PROFIT→LIMIT) and re-enter
// routing as if freshly submitted; otherwise rest it in the stop book.
func (m *MatchingEngine) routeStop(order *models.Order) ([]*models.Trade, error) {
	bid, ask := m.book.BBO()

	var triggered bool
	if order.Side == models.Buy {
		triggered = ask != nil && ask.Cmp(*order.StopPrice) <= 0
	} else {
		triggered = bid != nil && bid.Cmp(*order.StopPrice) >= 0
	}

	if !triggered {
		m.book.AddStop(order)
		order.Status = models.Open
		m.metrics.IncOrdersInBook()
		return nil, nil
	}

	convertStopOrder(order)
	return m.routeResting(order)
}

// convertStopOrder rewrites a triggered stop in place, per spec.md §4.3.4.
func convertStopOrder(order *models.Order) {
	switch order.Type {
	case models.StopLoss:
		order.Type = models.Market
		order.Price = nil
	case models.StopLimit, models.TakeProfit:
		order.Type = models.Limit
	}
}

// routeResting implements spec.md §4.3.2 steps 2–4 for MARKET, LIMIT,
// IOC, and FOK (including converted stop orders).
func (m *MatchingEngine) routeResting(order *models.Order) ([]*models.Trade, error) {
	if order.Type == models.FOK && !m.canFillFOK(order) {
		order.Status = models.Cancelled
		return nil, nil
	}

	var trades []*models.Trade
	if m.book.CanMatch(order) {
		trades = m.matchLoop(order)
	}

	restedLimit := false
	switch {
	case order.RemainingQuantity.Sign() == 0:
		order.Status = models.Filled
	case order.Type == models.Limit:
		if err := m.book.Add(order); err != nil {
			return trades, err
		}
		restedLimit = true
		m.metrics.IncOrdersInBook()
	case order.Type == models.Market:
		if order.FilledQuantity.Sign() == 0 {
			order.Status = models.Rejected
		} else {
			order.Status = models.PartiallyFilled
		}
	default: // IOC, FOK: never rest; discard remainder (spec.md §4.3.5)
		order.Status = models.Cancelled
	}

	if len(trades) > 0 || restedLimit {
		m.emitBBO()
	}
	return trades, nil
}

// matchLoop sweeps the opposite side while the aggressor has remaining
// quantity and the book can still match it, executing at the maker's
// resting price (no-trade-through, spec.md §4.3.3).
func (m *MatchingEngine) matchLoop(taker *models.Order) []*models.Trade {
	var trades []*models.Trade

	oppTree := m.oppositeTree(taker.Side)

	for taker.RemainingQuantity.Sign() > 0 {
		node := oppTree.Left()
		if node == nil {
			break
		}
		topPrice := node.Key.(decimal.Decimal)

		if taker.Price != nil {
			if taker.Side == models.Buy && topPrice.Cmp(*taker.Price) > 0 {
				break
			}
			if taker.Side == models.Sell && topPrice.Cmp(*taker.Price) < 0 {
				break
			}
		}

		level := node.Value.(*PriceLevel)
		maker := level.Peek()
		if maker == nil {
			dropIfEmpty(oppTree, topPrice)
			continue
		}

		fillQty := decimal.Min(taker.RemainingQuantity, maker.RemainingQuantity)
		execPrice := *maker.Price

		level.Adjust(fillQty.Neg())
		taker.ApplyFill(fillQty)
		maker.ApplyFill(fillQty)

		makerFee := m.fees.MakerFee(execPrice, fillQty)
		takerFee := m.fees.TakerFee(execPrice, fillQty)
		trade := models.NewTrade(m.symbol, execPrice, fillQty, taker.Side, maker.ID, taker.ID, makerFee, takerFee)

		if maker.RemainingQuantity.Sign() == 0 {
			level.PopHead()
			delete(m.book.orders, maker.ID)
			m.metrics.DecOrdersInBook()
		}
		dropIfEmpty(oppTree, topPrice)

		trades = append(trades, trade)
		m.sink.EmitTrade(trade)
	}

	return trades
}

func (m *MatchingEngine) oppositeTree(side models.Side) *redblacktree.Tree {
	if side == models.Buy {
		return m.book.asks
	}
	return m.book.bids
}

// canFillFOK precomputes total fillable quantity against the book as
// it stood at submission (spec.md §4.3.5), walking the opposite side
// within the order's price limit until cumulative liquidity covers the
// order or the book/limit is exhausted. This pre-check is what lets
// FOK execute without any fill rollback.
func (m *MatchingEngine) canFillFOK(order *models.Order) bool {
	tree := m.oppositeTree(order.Side)
	needed := order.RemainingQuantity
	available := decimal.Zero

	it := tree.Iterator()
	it.Begin()
	for it.Next() {
		level := it.Value().(*PriceLevel)
		price := it.Key().(decimal.Decimal)
		if order.Price != nil {
			if order.Side == models.Buy && price.Cmp(*order.Price) > 0 {
				break
			}
			if order.Side == models.Sell && price.Cmp(*order.Price) < 0 {
				break
			}
		}
		available = available.Add(level.TotalQuantity)
		if available.Cmp(needed) >= 0 {
			return true
		}
	}
	return available.Cmp(needed) >= 0
}

// reevaluateStops drains every triggered resting stop order from the
// stop book and re-routes it, repeating until a full pass triggers
// nothing further (a cascade: one stop's trades can trigger another).
func (m *MatchingEngine) reevaluateStops() []*models.Trade {
	var all []*models.Trade
	for {
		triggered := m.book.PopTriggeredStops()
		if len(triggered) == 0 {
			break
		}
		for _, order := range triggered {
			m.metrics.DecOrdersInBook()
			convertStopOrder(order)
			trades, err := m.routeResting(order)
			if err != nil {
				continue
			}
			all = append(all, trades...)
		}
	}
	return all
}

// emitBBO publishes the current best-bid/offer, per spec.md §6. Caller
// must hold mu.
func (m *MatchingEngine) emitBBO() {
	bid, ask := m.book.BBO()
	bids, asks := m.book.Depth(10)
	m.sink.EmitBBO(BBOUpdate{
		Timestamp:       time.Now().UnixNano(),
		Symbol:          m.symbol,
		BestBid:         bid,
		BestAsk:         ask,
		BestBidQuantity: m.book.BestBidQty(),
		BestAskQuantity: m.book.BestAskQty(),
		Bids:            bids,
		Asks:            asks,
	})
}

// Restore reinstates a previously persisted resting order directly
// into the book, bypassing validation and matching, mirroring
// original_source/src/persistence.py's restore_order_book (which calls
// add_order directly rather than resubmitting through the matcher).
// Only OPEN and PARTIALLY_FILLED orders should ever be passed in; the
// persistence layer filters to that set before saving.
func (m *MatchingEngine) Restore(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.IncOrdersInBook()
	if order.Type.IsStop() {
		m.book.AddStop(order)
		return nil
	}
	return m.book.Add(order)
}

// Engine owns one MatchingEngine per symbol, created lazily the same
// way the teacher's Engine.getOrderBook does.
type Engine struct {
	mu        sync.RWMutex
	symbols   map[string]*MatchingEngine
	fees      *FeeCalculator
	sink      EventSink
	metrics   *metrics.Metrics
	allOrders sync.Map // order_id -> *models.Order, for lookup by id
	index     sync.Map // order_id -> symbol, for Cancel without a symbol
}

// New constructs an Engine sharing one FeeCalculator and EventSink
// across all symbols, per spec.md §5.
func New(fees *FeeCalculator, sink EventSink, m *metrics.Metrics) *Engine {
	return &Engine{
		symbols: make(map[string]*MatchingEngine),
		fees:    fees,
		sink:    sink,
		metrics: m,
	}
}

func (e *Engine) bookFor(symbol string) *MatchingEngine {
	e.mu.RLock()
	me, ok := e.symbols[symbol]
	e.mu.RUnlock()
	if ok {
		return me
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	me, ok = e.symbols[symbol]
	if !ok {
		me = NewMatchingEngine(symbol, e.fees, e.sink, e.metrics)
		e.symbols[symbol] = me
	}
	return me
}

// Process routes order to its symbol's engine, recording end-to-end
// processing latency and incrementing the received counter the way the
// teacher's ProcessOrder does.
func (e *Engine) Process(order *models.Order) ([]*models.Trade, error) {
	startTime := time.Now()
	defer func() {
		e.metrics.AddLatency(time.Since(startTime).Microseconds())
	}()
	e.metrics.IncOrdersReceived()

	e.allOrders.Store(order.ID, order)
	me := e.bookFor(order.Symbol)
	trades, err := me.Process(order)
	if err == nil {
		e.index.Store(order.ID, order.Symbol)
	}
	return trades, err
}

// Cancel looks up order_id's symbol and delegates, per spec.md §4.3
// ("cancel(order_id)" takes no symbol — ids are unique engine-wide).
func (e *Engine) Cancel(orderID string) (*models.Order, error) {
	symbolVal, ok := e.index.Load(orderID)
	if !ok {
		return nil, models.ErrUnknownOrder
	}
	me := e.bookFor(symbolVal.(string))
	return me.Cancel(orderID)
}

// GetOrder returns a previously submitted order by id, terminal or not.
func (e *Engine) GetOrder(orderID string) (*models.Order, error) {
	v, ok := e.allOrders.Load(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownOrder, orderID)
	}
	return v.(*models.Order), nil
}

// Snapshot returns the book snapshot for symbol.
func (e *Engine) Snapshot(symbol string, depth int) Snapshot {
	return e.bookFor(symbol).Snapshot(depth)
}

// RestingOrders returns every OPEN or PARTIALLY_FILLED order currently
// held by symbol's book (resting or stop), for the persistence layer's
// save path.
func (e *Engine) RestingOrders(symbol string) []*models.Order {
	return e.bookFor(symbol).RestingOrders()
}

// Restore reinstates a previously persisted order for symbol without
// running it through matching.
func (e *Engine) Restore(symbol string, order *models.Order) error {
	e.allOrders.Store(order.ID, order)
	e.index.Store(order.ID, symbol)
	return e.bookFor(symbol).Restore(order)
}

// RestingOrders returns every order currently resting in the book,
// matched or stop side alike, for persistence.Store.SaveOrders.
func (m *MatchingEngine) RestingOrders() []*models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Order, 0, len(m.book.orders)+len(m.book.stops))
	for _, o := range m.book.orders {
		out = append(out, o)
	}
	for _, o := range m.book.stops {
		out = append(out, o)
	}
	return out
}
