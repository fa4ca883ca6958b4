package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/sniper-trader/internal/clock"
	"github.com/amirphl/sniper-trader/internal/config"
	"github.com/amirphl/sniper-trader/internal/db"
	"github.com/amirphl/sniper-trader/internal/engine"
	"github.com/amirphl/sniper-trader/internal/exchange"
	"github.com/amirphl/sniper-trader/internal/journal"
	"github.com/amirphl/sniper-trader/internal/metrics"
	"github.com/amirphl/sniper-trader/internal/notifier"
	"github.com/amirphl/sniper-trader/internal/state"
	"github.com/amirphl/sniper-trader/internal/utils"
)

const schemaFile = "scripts/schema.sql"

func main() {
	cfg := config.MustLoadConfig()
	log.Printf("Main | starting sniper-trader: %d symbols, %s candles, testnet=%v",
		len(cfg.Symbols), cfg.Timeframe, cfg.UseTestnet)
	utils.GetLogger().Printf("Main | boot: %d symbols, timeframe %s, testnet=%v",
		len(cfg.Symbols), cfg.Timeframe, cfg.UseTestnet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(cfg.StateFile)
	if err != nil {
		log.Fatalf("Main | opening state file: %v", err)
	}
	log.Printf("Main | state loaded from %s: %d open positions", cfg.StateFile, store.OpenCount())

	jnl, closeJournal, err := buildJournal(ctx, cfg)
	if err != nil {
		log.Fatalf("Main | journal: %v", err)
	}
	defer closeJournal()

	ntf := buildNotifier(cfg)

	metricsSrv := metrics.Serve(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	cli := exchange.NewBinance(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.UseTestnet)
	settings := config.NewSettings(&cfg)

	eng, err := engine.New(&cfg, settings, cli, store, jnl, ntf, clock.Real{})
	if err != nil {
		log.Fatalf("Main | building engine: %v", err)
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		_ = ntf.SendWithRetry(fmt.Sprintf("🔥 Engine stopped: %v", err))
		log.Fatalf("Main | engine: %v", err)
	}

	log.Printf("Main | shutdown complete")
	utils.GetLogger().Printf("Main | shutdown complete")
}

// buildJournal tees the CSV report files with Postgres when a connection
// string is configured. CSV is always on, so the trade log survives a lost
// database.
func buildJournal(ctx context.Context, cfg config.Config) (journal.Journaler, func(), error) {
	csvJnl, err := journal.NewCSV(cfg.ReportDir)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBConnStr == "" {
		log.Printf("Main | journaling to %s, no database configured", cfg.ReportDir)
		return csvJnl, func() {}, nil
	}

	pg, err := db.Open(cfg.DBConnStr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	pg.GetDB().SetMaxOpenConns(cfg.DBMaxOpen)
	pg.GetDB().SetMaxIdleConns(cfg.DBMaxIdle)

	schemaSQL, err := os.ReadFile(schemaFile)
	if err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("read %s: %w", schemaFile, err)
	}
	if err := pg.Migrate(ctx, string(schemaSQL)); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Printf("Main | journaling to %s and postgres", cfg.ReportDir)
	return journal.NewTee(csvJnl, pg), func() { pg.Close() }, nil
}

// buildNotifier returns Telegram when credentials are configured, otherwise
// a no-op that still honors the retry contract.
func buildNotifier(cfg config.Config) notifier.Notifier {
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		log.Printf("Main | telegram notifications enabled")
		return notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	}
	log.Printf("Main | telegram not configured, notifications disabled")
	return notifier.Nop{Retries: cfg.NotificationRetries, Delay: cfg.NotificationDelay}
}
