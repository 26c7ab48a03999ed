package events

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repello/internal/matching"
	"repello/internal/models"
)

func TestDispatcher_DeliversTradesToSubscribers(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	var received []*models.Trade
	d.OnTrade(func(trade *models.Trade) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, trade)
	})
	d.Start()
	defer d.Stop()

	trade := models.NewTrade("BTCUSD", decimal.RequireFromString("100"), decimal.RequireFromString("1"),
		models.Buy, "maker1", "taker1", decimal.Zero, decimal.Zero)
	d.EmitTrade(trade)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DeliversBBOToSubscribers(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	var received []matching.BBOUpdate
	d.OnBBO(func(update matching.BBOUpdate) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, update)
	})
	d.Start()
	defer d.Stop()

	d.EmitBBO(matching.BBOUpdate{Symbol: "BTCUSD"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "BTCUSD", received[0].Symbol)
}

func TestDispatcher_StopDrainsCleanly(t *testing.T) {
	d := NewDispatcher()
	d.Start()
	assert.NoError(t, d.Stop())
}

func TestDispatcher_EmitDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher()
	// Never started: nothing drains the queue, so it fills deterministically.
	trade := models.NewTrade("BTCUSD", decimal.RequireFromString("100"), decimal.RequireFromString("1"),
		models.Buy, "maker1", "taker1", decimal.Zero, decimal.Zero)

	for i := 0; i < queueSize; i++ {
		d.EmitTrade(trade)
	}
	assert.Equal(t, int64(0), d.Dropped())

	d.EmitTrade(trade)
	assert.Equal(t, int64(1), d.Dropped())
}
