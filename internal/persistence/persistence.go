// Package persistence implements the recovery contract of spec.md §6
// as a Redis-backed store, grounded on original_source/src/persistence.py's
// save_state/load_state/restore_order_book: only OPEN and
// PARTIALLY_FILLED orders are durable, and recovery places them
// directly back into a fresh book rather than replaying trade history.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"repello/internal/models"
)

const keyPrefix = "exchange:book:"

// Store persists and restores per-symbol resting-order state in Redis.
type Store struct {
	client *redis.Client
}

// NewStore constructs a Store against a Redis instance reachable at addr.
func NewStore(addr string) *Store {
	return &Store{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// symbolState is the JSON shape written per symbol, mirroring
// original_source/src/persistence.py's save_state per-symbol entry.
type symbolState struct {
	Symbol string          `json:"symbol"`
	Orders []*models.Order `json:"orders"`
}

// SaveOrders durably records symbol's currently OPEN or
// PARTIALLY_FILLED orders. Terminal orders (filled, cancelled,
// rejected) are never persisted, since recovery only needs to
// reinstate orders that could still match.
func (s *Store) SaveOrders(ctx context.Context, symbol string, orders []*models.Order) error {
	payload, err := json.Marshal(symbolState{Symbol: symbol, Orders: restorable(orders)})
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", symbol, err)
	}
	return s.client.Set(ctx, keyPrefix+symbol, payload, 0).Err()
}

// LoadOrders returns the previously persisted resting orders for
// symbol, sorted by timestamp so that restoring them in that order
// keeps each level's FIFO, or an empty slice if nothing was saved (a
// cold start, per original_source/src/persistence.py's
// FileNotFoundError branch).
func (s *Store) LoadOrders(ctx context.Context, symbol string) ([]*models.Order, error) {
	raw, err := s.client.Get(ctx, keyPrefix+symbol).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", symbol, err)
	}

	var state symbolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state for %s: %w", symbol, err)
	}
	sort.SliceStable(state.Orders, func(i, j int) bool {
		return state.Orders[i].Timestamp < state.Orders[j].Timestamp
	})
	return state.Orders, nil
}

// restorable filters orders down to the set worth persisting: only
// OPEN and PARTIALLY_FILLED orders can still match after a restart, so
// terminal orders (filled, cancelled, rejected) are dropped.
func restorable(orders []*models.Order) []*models.Order {
	live := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == models.Open || o.Status == models.PartiallyFilled {
			live = append(live, o)
		}
	}
	return live
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
