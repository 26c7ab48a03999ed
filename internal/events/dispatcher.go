// Package events provides the engine's non-blocking publication
// surface (spec.md §6): a Dispatcher buffers trade and BBO events on a
// channel and fans each one out to every registered subscriber on a
// supervised background goroutine, so a slow subscriber never stalls
// the matching critical section.
package events

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"repello/internal/matching"
	"repello/internal/models"
)

const queueSize = 4096

type event struct {
	trade *models.Trade
	bbo   *matching.BBOUpdate
}

// TradeHandler receives every executed trade.
type TradeHandler func(trade *models.Trade)

// BBOHandler receives every best-bid/offer change.
type BBOHandler func(update matching.BBOUpdate)

// Dispatcher implements matching.EventSink, decoupling event
// production from event delivery, grounded on
// saiputravu-Exchange/internal/worker.go's WorkerPool and the
// multi-subscriber fan-out of original_source/src/event_bus.py.
// Dispatcher is shared across every per-symbol MatchingEngine, so
// EmitTrade/EmitBBO can be called concurrently from goroutines
// processing different symbols; dropped is an atomic for that reason.
type Dispatcher struct {
	t       tomb.Tomb
	queue   chan event
	trades  []TradeHandler
	bbos    []BBOHandler
	dropped atomic.Int64
}

// NewDispatcher constructs a Dispatcher with its delivery loop not yet
// running; call Start to begin draining the queue.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queue: make(chan event, queueSize)}
}

// OnTrade registers a subscriber for trade events. Must be called
// before Start; Dispatcher has no subscriber-list locking because
// subscription happens once during bootstrap.
func (d *Dispatcher) OnTrade(h TradeHandler) {
	d.trades = append(d.trades, h)
}

// OnBBO registers a subscriber for BBO update events.
func (d *Dispatcher) OnBBO(h BBOHandler) {
	d.bbos = append(d.bbos, h)
}

// Start launches the delivery goroutine under a tomb, so Stop can wait
// for in-flight deliveries to drain.
func (d *Dispatcher) Start() {
	d.t.Go(d.loop)
}

// Stop signals the delivery loop to exit and waits for it.
func (d *Dispatcher) Stop() error {
	d.t.Kill(nil)
	return d.t.Wait()
}

func (d *Dispatcher) loop() error {
	for {
		select {
		case <-d.t.Dying():
			return nil
		case e := <-d.queue:
			d.deliver(e)
		}
	}
}

func (d *Dispatcher) deliver(e event) {
	if e.trade != nil {
		for _, h := range d.trades {
			h(e.trade)
		}
	}
	if e.bbo != nil {
		for _, h := range d.bbos {
			h(*e.bbo)
		}
	}
}

// EmitTrade implements matching.EventSink. Never blocks: a full queue
// drops the event and logs it rather than stalling the caller, which
// holds the matching engine's per-symbol lock.
func (d *Dispatcher) EmitTrade(trade *models.Trade) {
	select {
	case d.queue <- event{trade: trade}:
	default:
		d.dropped.Add(1)
		log.Warn().Str("trade_id", trade.ID).Msg("event queue full, dropping trade event")
	}
}

// EmitBBO implements matching.EventSink.
func (d *Dispatcher) EmitBBO(update matching.BBOUpdate) {
	select {
	case d.queue <- event{bbo: &update}:
	default:
		d.dropped.Add(1)
		log.Warn().Str("symbol", update.Symbol).Msg("event queue full, dropping bbo event")
	}
}

// Dropped returns the number of events discarded because the queue was
// full, for the periodic health log in cmd/server.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}
