// BTCUSDT engine - tick-driven dual-FSM paper trading engine.
//
// Strategy signals arrive over a webhook (Accepted Entry → BUY,
// Accepted Exit → SELL); trade ticks stream from the Binance WebSocket.
// Each side of the machine latches an anchor price off the first tick
// after its signal, then trades a ±0.5 trigger/stop band around it inside
// 60-second windows. Paper P&L gates the one-way promotion to live mode.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/config"
	"github.com/nidhinvijay/BTCUSDT/internal/engine"
	"github.com/nidhinvijay/BTCUSDT/internal/journal"
	"github.com/nidhinvijay/BTCUSDT/internal/market"
	"github.com/nidhinvijay/BTCUSDT/internal/notify"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/server"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/signalbus"
	"github.com/nidhinvijay/BTCUSDT/internal/snapshot"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", version).
		Str("symbol", cfg.Symbol).
		Int("port", cfg.Port).
		Msg("⚡ Engine starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== CORE COMPONENTS ======

	jour, err := journal.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize journal")
	}

	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram notifier unavailable, continuing without alerts")
		notifier = nil
	}

	pnlCtx := pnl.NewContext(cfg.Symbol)
	paperBroker := broker.NewPaper(pnlCtx)
	fsm := engine.NewFSM(cfg.Symbol, paperBroker)
	sess := session.NewManager(cfg.DailyLossLimit)

	var dispatcherNotifier engine.Notifier
	if notifier != nil {
		dispatcherNotifier = notifier
	}
	dispatcher := engine.NewDispatcher(cfg.Symbol, fsm, paperBroker, pnlCtx, sess, jour, dispatcherNotifier)

	// Restore persisted state before any event flows.
	store := snapshot.NewStore(cfg.DataDir, cfg.Symbol)
	if doc, err := store.Load(); err != nil {
		log.Error().Err(err).Msg("Snapshot load failed, starting fresh")
	} else if doc != nil {
		fsm.Restore(doc.FSM)
		sess.Restore(doc.Session)
		if doc.Pnl != nil {
			pnlCtx.Restore(*doc.Pnl)
		}
		fsm.ResumeAt(time.Now().UnixMilli())
		log.Info().Int64("savedAt", doc.Timestamp).Msg("💾 State restored from snapshot")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	// ====== EDGES ======

	bus := signalbus.New()
	bus.SubscribeAll(dispatcher.OnSignal)

	feed := market.NewClient(cfg.Symbol)
	feed.SetTickCallback(dispatcher.OnTick)
	if err := feed.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start market feed")
	}

	srv := server.New(cfg.Port, cfg.Symbol, bus, dispatcher, jour)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Snapshot writer. Runs on its own context so the final write happens
	// while the dispatcher is still serving state reads.
	snapCtx, snapCancel := context.WithCancel(context.Background())
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		store.RunPeriodic(snapCtx, cfg.SnapshotInterval, func() snapshot.Document {
			fs, ss, ps := dispatcher.States()
			return snapshot.Document{
				FSM:       fs,
				Session:   ss,
				Pnl:       &ps,
				Timestamp: time.Now().UnixMilli(),
			}
		})
	}()

	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	feed.Stop()

	// Final snapshot first, then stop the dispatcher it reads from.
	snapCancel()
	<-snapDone
	cancel()
	wg.Wait()

	log.Info().Msg("👋 Goodbye!")
}
