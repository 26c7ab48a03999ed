package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"repello/internal/api"
	"repello/internal/config"
	"repello/internal/events"
	"repello/internal/matching"
	"repello/internal/metrics"
	"repello/internal/models"
	"repello/internal/money"
	"repello/internal/persistence"
)

// knownSymbols lists the books recovered from Redis at startup. A
// production bootstrap would discover these from a symbol registry;
// the matching core itself creates books lazily on first order, so
// this list only matters for recovery.
var knownSymbols = []string{"BTCUSD", "ETHUSD"}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Log.Level))
	money.Places = cfg.Money.DecimalPlaces

	m := metrics.NewMetrics()
	fees := matching.NewFeeCalculator(cfg.Fees.MakerRate, cfg.Fees.TakerRate)

	dispatcher := events.NewDispatcher()
	dispatcher.OnTrade(func(trade *models.Trade) {
		log.Debug().Str("trade_id", trade.ID).Str("symbol", trade.Symbol).
			Str("price", trade.Price.String()).Str("quantity", trade.Quantity.String()).
			Msg("trade executed")
	})
	dispatcher.OnBBO(func(update matching.BBOUpdate) {
		log.Debug().Str("symbol", update.Symbol).Msg("bbo updated")
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	engine := matching.New(fees, dispatcher, m)

	store := persistence.NewStore(cfg.Persistence.RedisAddr)
	defer store.Close()
	restoreBooks(context.Background(), store, engine)

	server := api.NewServer(cfg.Server.ListenAddr, engine, m, cfg.Server.SnapshotDepth)

	go periodicSnapshot(context.Background(), store, engine, dispatcher, cfg.Persistence.SnapshotPeriod)
	go gracefulShutdown(context.Background(), store, engine, server, cfg.Server.ShutdownGrace)

	log.Info().Str("addr", cfg.Server.ListenAddr).Msg("matching engine starting")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// periodicSnapshot persists every known symbol's resting orders on a
// fixed interval, so a crash between signals loses at most one period
// of book state rather than everything since the last graceful exit.
// It also logs the dispatcher's dropped-event count, the only signal
// that the event queue is falling behind the matching critical section.
func periodicSnapshot(ctx context.Context, store *persistence.Store, engine *matching.Engine, dispatcher *events.Dispatcher, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		for _, symbol := range knownSymbols {
			orders := engine.RestingOrders(symbol)
			if err := store.SaveOrders(ctx, symbol, orders); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("periodic snapshot failed")
			}
		}
		if dropped := dispatcher.Dropped(); dropped > 0 {
			log.Warn().Int64("dropped_events", dropped).Msg("event dispatcher has dropped events since startup")
		}
	}
}

// restoreBooks reinstates resting orders for every known symbol from
// the last persisted snapshot, per spec.md §6's recovery contract.
func restoreBooks(ctx context.Context, store *persistence.Store, engine *matching.Engine) {
	for _, symbol := range knownSymbols {
		orders, err := store.LoadOrders(ctx, symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("failed to load persisted state")
			continue
		}
		for _, order := range orders {
			if err := engine.Restore(symbol, order); err != nil {
				log.Error().Err(err).Str("order_id", order.ID).Msg("failed to restore order")
			}
		}
		if len(orders) > 0 {
			log.Info().Str("symbol", symbol).Int("count", len(orders)).Msg("restored resting orders")
		}
	}
}

// gracefulShutdown drains the HTTP server and snapshots every known
// symbol to Redis on SIGINT/SIGTERM, bounding both by grace.
func gracefulShutdown(ctx context.Context, store *persistence.Store, engine *matching.Engine, server *api.Server, grace time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Dur("grace", grace).Msg("shutting down, persisting book state")
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server did not drain cleanly")
	}

	for _, symbol := range knownSymbols {
		orders := engine.RestingOrders(symbol)
		if err := store.SaveOrders(shutdownCtx, symbol, orders); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("failed to persist state")
		}
	}
	os.Exit(0)
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
