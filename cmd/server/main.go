// Package main is the entry point for the rebalancer engine: it wires
// the store, broker client, price oracle, per-bot schedulers, and the
// thin HTTP status surface, then runs until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coinrebalancer/engine/internal/clients/broker"
	"github.com/coinrebalancer/engine/internal/config"
	"github.com/coinrebalancer/engine/internal/decision"
	"github.com/coinrebalancer/engine/internal/domain"
	"github.com/coinrebalancer/engine/internal/events"
	"github.com/coinrebalancer/engine/internal/executor"
	"github.com/coinrebalancer/engine/internal/lock"
	"github.com/coinrebalancer/engine/internal/oracle"
	"github.com/coinrebalancer/engine/internal/reconcile"
	"github.com/coinrebalancer/engine/internal/scheduler"
	"github.com/coinrebalancer/engine/internal/server"
	"github.com/coinrebalancer/engine/internal/snapshot"
	"github.com/coinrebalancer/engine/internal/store/sqlite"
	"github.com/coinrebalancer/engine/pkg/logger"
)

const lockSweepInterval = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting rebalancer engine")

	// Initialize database
	db, err := sqlite.New(sqlite.Config{
		Path:    filepath.Join(cfg.DataDir, "engine.db"),
		Profile: sqlite.ProfileStandard,
		Name:    "engine",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	store := sqlite.NewStore(db, log)

	// Broker client
	brokerClient := broker.New(broker.Config{
		BaseURL:   cfg.BrokerBaseURL,
		APIKey:    cfg.BrokerAPIKey,
		APISecret: cfg.BrokerAPISecret,
	}, log)
	defer brokerClient.Close()

	// Price oracle: the broker's rate endpoint first, the public
	// aggregator as fallback.
	priceOracle := oracle.New([]domain.PriceProvider{
		&oracle.BrokerRateProvider{Broker: brokerClient},
		oracle.NewHTTPAggregator(cfg.AggregatorBaseURL),
	}, store, log)
	strategy := oracle.Strategy{Primary: "broker", Fallback: "aggregator"}

	// Root context for background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Decision-event bus, persisted at TRADE level for the decision-log
	// query surface.
	eventMgr := events.NewManager(log)
	recorder := events.NewRecorder(store, log)
	go recorder.Run(ctx, eventMgr)

	snapMgr := snapshot.New(store, store, log)
	lockMgr := lock.New(store, store, log)
	go lockMgr.RunSweeper(ctx, lockSweepInterval)

	decisionEngine := decision.New(snapMgr, store, store, log)

	mode := executor.ModeLive
	if cfg.SimulateTrades {
		mode = executor.ModeSimulate
	}
	exec := executor.New(brokerClient, store, store, snapMgr, lockMgr, store, mode, log, eventMgr)

	tick := &scheduler.EngineTick{
		Bots:      store,
		Assets:    store,
		Snapshots: snapMgr,
		Oracle:    priceOracle,
		Decisions: decisionEngine,
		Executor:  exec,
		Broker:    brokerClient,
		Strategy:  strategy,
		Events:    eventMgr,
		Missed:    store,
		Log:       log,
	}

	sched := scheduler.New(store, tick, log)
	sched.Start()
	defer sched.Stop()

	// Register every enabled bot. A bot that fails to register is
	// logged and skipped; the rest keep running.
	bots, err := store.ListEnabledBots(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list enabled bots")
	}
	for _, bot := range bots {
		if err := sched.StartBot(ctx, bot.BotID); err != nil {
			log.Error().Err(err).Str("bot_id", bot.BotID).Msg("Failed to schedule bot")
		}
	}
	log.Info().Int("bots", len(bots)).Msg("Bot schedulers registered")

	reconciler := reconcile.New(store, store, brokerClient, log)

	// HTTP status surface
	srv := server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		DB:         db,
		Store:      store,
		Reconciler: reconciler,
		Resetter:   tick,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Engine stopped")
}
