package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/yieldloop/engine/internal/chain"
	"github.com/yieldloop/engine/internal/config"
	"github.com/yieldloop/engine/internal/evaluator"
	"github.com/yieldloop/engine/internal/executor"
	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/notifier"
	"github.com/yieldloop/engine/internal/pricefeed"
	"github.com/yieldloop/engine/internal/scheduler"
	"github.com/yieldloop/engine/internal/state"
	"github.com/yieldloop/engine/internal/web"
)

// main is the entry point for the yield strategy engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Yield strategy engine starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	store := state.NewStore()
	snapshots := state.NewOpportunityStore()

	// --- 2. Crash Recovery ---
	// Executions left 'pending' by a previous run are ambiguous: the
	// transaction may or may not have reached the chain. Fail them and flag
	// them for reconciliation before processing anything new.
	recovered, err := store.RecoverStalePending(context.Background(), config.PendingRecoveryTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to recover stale pending executions")
	}
	if recovered > 0 {
		log.Warn().Int64("count", recovered).Msg("Recovered orphaned pending executions, manual reconciliation required")
	}

	// --- 3. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, store)
	go func() {
		log.Info().Str("port", webPort).Msg("Starting engine API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Chain Client (with Safety Switch) ---
	engineMode := os.Getenv("ENGINE_MODE")
	if engineMode != "live" {
		log.Fatal().Msg("ENGINE_MODE is not set to 'live'. Halting to prevent accidental execution. Set ENGINE_MODE=live to run.")
	}
	log.Warn().Msg("Initializing engine in LIVE mode. Real transactions will be broadcast.")

	chainClient, err := chain.NewEVMClient(config.ChainRPC, config.SignerKey, config.ChainNetworkID, config.Routers, config.TokenAddresses)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize chain client")
	}
	defer chainClient.Close()
	log.Info().Str("endpoint", config.ChainRPC).Int64("chainID", config.ChainNetworkID).Msg("Chain client connected")

	prices, err := pricefeed.NewClient(config.PriceAPI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price feed client")
	}

	actionExecutor, err := executor.New(chainClient, config.ConfirmTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create action executor")
	}

	var dispatcher notifier.Dispatcher = notifier.Noop{}
	if config.TelegramBotToken != "" && config.TelegramChatID != "" {
		dispatcher = notifier.NewTelegramDispatcher(config.TelegramBotToken, config.TelegramChatID)
		log.Info().Msg("Telegram notifications enabled")
	} else {
		log.Info().Msg("Telegram not configured, notifications disabled")
	}

	// --- 5. Create Scheduler with Dependency Injection ---
	schedulerConfig := scheduler.Config{
		Workers:              config.Workers,
		PollInterval:         config.PollInterval,
		DueBatchSize:         config.DueBatchSize,
		LeaseTTL:             config.LeaseTTL,
		FreshnessBound:       config.FreshnessBound,
		DefaultRearmInterval: config.DefaultRearmInterval,
	}

	engine, err := scheduler.New(schedulerConfig, store, snapshots, prices, actionExecutor, evaluator.Evaluate, dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	// --- 6. Run Until Signalled ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.RunLoop(ctx)
	log.Info().Msg("Engine shut down cleanly")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
