package matching

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repello/internal/metrics"
	"repello/internal/models"
)

// recordingSink is a trivial EventSink that stores what it receives,
// standing in for internal/events.Dispatcher in unit tests.
type recordingSink struct {
	mu     sync.Mutex
	trades []*models.Trade
	bbos   []BBOUpdate
}

func (s *recordingSink) EmitTrade(trade *models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
}

func (s *recordingSink) EmitBBO(update BBOUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bbos = append(s.bbos, update)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestEngine() (*Engine, *recordingSink) {
	sink := &recordingSink{}
	fees := NewFeeCalculator(decimal.Zero, decimal.Zero)
	return New(fees, sink, metrics.NewMetrics()), sink
}

func limitOrder(id string, side models.Side, price, qty string) *models.Order {
	return models.New(id, "BTCUSD", side, models.Limit, dec(qty), decPtr(price), nil)
}

func TestProcess_SimpleMatch(t *testing.T) {
	engine, _ := newTestEngine()

	sell := limitOrder("seller1", models.Sell, "100", "10")
	_, err := engine.Process(sell)
	require.NoError(t, err)

	buy := limitOrder("buyer1", models.Buy, "100", "10")
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].Quantity.Equal(dec("10")))
	assert.True(t, trades[0].Price.Equal(dec("100")))
	assert.Equal(t, models.Filled, buy.Status)
	assert.Equal(t, models.Filled, sell.Status)
	assert.True(t, buy.RemainingQuantity.IsZero())

	snap := engine.Snapshot("BTCUSD", 10)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestProcess_PartialFill(t *testing.T) {
	engine, _ := newTestEngine()

	sell := limitOrder("seller1", models.Sell, "100", "5")
	_, err := engine.Process(sell)
	require.NoError(t, err)

	buy := limitOrder("buyer1", models.Buy, "100", "10")
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].Quantity.Equal(dec("5")))
	assert.True(t, buy.RemainingQuantity.Equal(dec("5")))
	assert.Equal(t, models.PartiallyFilled, buy.Status)

	snap := engine.Snapshot("BTCUSD", 10)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Quantity.Equal(dec("5")))
	assert.Empty(t, snap.Asks)
}

func TestProcess_MultiLevelMatch(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "5"))))
	require.NoError(t, firstErr(engine.Process(limitOrder("seller2", models.Sell, "101", "5"))))

	buy := limitOrder("buyer1", models.Buy, "101", "8")
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.True(t, trades[0].Price.Equal(dec("100")))
	assert.True(t, trades[0].Quantity.Equal(dec("5")))
	assert.True(t, trades[1].Price.Equal(dec("101")))
	assert.True(t, trades[1].Quantity.Equal(dec("3")))
	assert.True(t, buy.RemainingQuantity.IsZero())

	snap := engine.Snapshot("BTCUSD", 10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(dec("101")))
	assert.True(t, snap.Asks[0].Quantity.Equal(dec("2")))
}

func TestProcess_MarketOrderNeverRests(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "5"))))

	buy := models.New("buyer1", "BTCUSD", models.Buy, models.Market, dec("10"), nil, nil)
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].Quantity.Equal(dec("5")))
	assert.Equal(t, models.PartiallyFilled, buy.Status)

	snap := engine.Snapshot("BTCUSD", 10)
	assert.Empty(t, snap.Bids, "MARKET orders never rest, even with a remainder")
}

func TestProcess_MarketOrderRejectedWithNoLiquidity(t *testing.T) {
	engine, _ := newTestEngine()

	buy := models.New("buyer1", "BTCUSD", models.Buy, models.Market, dec("10"), nil, nil)
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, models.Rejected, buy.Status)
}

func TestProcess_IOCDiscardsRemainder(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "5"))))

	buy := models.New("buyer1", "BTCUSD", models.Buy, models.IOC, dec("10"), decPtr("100"), nil)
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.Cancelled, buy.Status)

	snap := engine.Snapshot("BTCUSD", 10)
	assert.Empty(t, snap.Bids)
}

func TestProcess_FOKAllOrNothing(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "5"))))

	buy := models.New("buyer1", "BTCUSD", models.Buy, models.FOK, dec("10"), decPtr("100"), nil)
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	assert.Empty(t, trades, "FOK must not produce partial trades when liquidity is insufficient")
	assert.Equal(t, models.Cancelled, buy.Status)

	// The resting sell order must be untouched.
	snap := engine.Snapshot("BTCUSD", 10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Quantity.Equal(dec("5")))
}

func TestProcess_FOKFillsWhenLiquiditySuffices(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "5"))))
	require.NoError(t, firstErr(engine.Process(limitOrder("seller2", models.Sell, "101", "5"))))

	buy := models.New("buyer1", "BTCUSD", models.Buy, models.FOK, dec("10"), decPtr("101"), nil)
	trades, err := engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.Filled, buy.Status)
}

func TestProcess_StopLossTriggersOnTrade(t *testing.T) {
	engine, _ := newTestEngine()

	require.NoError(t, firstErr(engine.Process(limitOrder("seller1", models.Sell, "100", "10"))))

	stop := models.New("stop1", "BTCUSD", models.Sell, models.StopLoss, dec("5"), nil, decPtr("101"))
	trades, err := engine.Process(stop)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, models.Open, stop.Status, "stop rests untriggered while there is no best bid to reach its stop price")

	// A buy for more than the resting ask leaves a remainder resting at
	// 101, moving the best bid up to 101 and triggering the SELL stop
	// (best_bid >= stop_price) once the book re-evaluates.
	buy := limitOrder("buyer1", models.Buy, "101", "15")
	trades, err = engine.Process(buy)
	require.NoError(t, err)
	require.Len(t, trades, 2, "the buy fills against seller1, then its resting remainder fills the triggered stop")

	snap := engine.Snapshot("BTCUSD", 10)
	assert.Empty(t, snap.Bids, "the triggered stop consumed the buy's resting remainder")
}

func TestCancel_RestingOrder(t *testing.T) {
	engine, _ := newTestEngine()

	sell := limitOrder("seller1", models.Sell, "100", "10")
	_, err := engine.Process(sell)
	require.NoError(t, err)

	cancelled, err := engine.Cancel("seller1")
	require.NoError(t, err)
	assert.Equal(t, models.Cancelled, cancelled.Status)

	snap := engine.Snapshot("BTCUSD", 10)
	assert.Empty(t, snap.Asks)
}

func TestMatchingEngine_PoisonsOnInvariantViolation(t *testing.T) {
	engine, _ := newTestEngine()
	require.NoError(t, firstErr(engine.Process(limitOrder("resting", models.Buy, "100", "5"))))

	me := engine.bookFor("BTCUSD")
	node := me.book.bids.Left()
	require.NotNil(t, node)
	// Corrupt the cached total so the next legitimate removal drives it
	// negative, simulating a bookkeeping bug rather than exercising one
	// through the matching path (which always keeps the cache correct).
	node.Value.(*PriceLevel).TotalQuantity = dec("1")

	_, err := engine.Cancel("resting")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInconsistentState)

	// The engine is poisoned: every later call on this symbol fails the
	// same way instead of operating on a book that may be corrupted.
	_, err = engine.Process(limitOrder("after-poison", models.Buy, "100", "1"))
	assert.ErrorIs(t, err, models.ErrInconsistentState)
}

func TestCancel_UnknownOrder(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.Cancel("does-not-exist")
	assert.ErrorIs(t, err, models.ErrUnknownOrder)
}

func TestProcess_DuplicateOrderIDRejected(t *testing.T) {
	engine, _ := newTestEngine()

	order := limitOrder("order1", models.Sell, "100", "10")
	_, err := engine.Process(order)
	require.NoError(t, err)

	dup := limitOrder("order1", models.Sell, "100", "10")
	_, err = engine.Process(dup)
	assert.ErrorIs(t, err, models.ErrDuplicateOrderID)
}

func TestEngineConcurrency(t *testing.T) {
	engine, _ := newTestEngine()
	const numGoroutines = 50
	const ordersPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ordersPerGoroutine; j++ {
				side := models.Buy
				if (id+j)%2 == 0 {
					side = models.Sell
				}
				order := limitOrder(fmt.Sprintf("order-%d-%d", id, j), side, "100", "1")
				_, err := engine.Process(order)
				assert.NoError(t, err)
			}
		}(i)
	}

	wg.Wait()
}

func firstErr(_ []*models.Trade, err error) error {
	return err
}

func BenchmarkProcess(b *testing.B) {
	engine, _ := newTestEngine()

	for i := 0; i < 1000; i++ {
		_, _ = engine.Process(limitOrder(fmt.Sprintf("sell-%d", i), models.Sell, fmt.Sprintf("%d", 1000+i), "1"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Process(limitOrder(fmt.Sprintf("bench-%d", i), models.Buy, "1000", "1"))
	}
}
