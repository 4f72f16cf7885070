package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/idproperty/service/admin"
	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/config"
	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/metrics"
	natspkg "github.com/brojonat/idproperty/service/nats"
	"github.com/brojonat/idproperty/service/query"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/server"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/temporal"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"chain_id", cfg.ChainID.String(),
		"read_only", cfg.ReadOnly(),
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize chain client and contracts
	chainClient, ethClient, err := chain.Dial(ctx, cfg.RPCURL, cfg.RPCRateLimit, cfg.RPCRateBurst, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to connect to RPC", "error", err)
		os.Exit(1)
	}
	defer ethClient.Close()

	token := chain.NewTokenContract(chainClient, common.HexToAddress(cfg.PropertyTokenAddress))
	registry := chain.NewRegistryContract(chainClient, common.HexToAddress(cfg.KYCRegistryAddress))

	// Signing wallet (optional). Without it the dashboard is read-only.
	var wallet chain.Wallet
	if !cfg.ReadOnly() {
		kw, err := chain.NewKeyWallet(ethClient, cfg.WalletPrivateKey, cfg.ChainID, logger)
		if err != nil {
			logger.Error("failed to load wallet", "error", err)
			os.Exit(1)
		}
		wallet = kw
		logger.Info("wallet connected", "address", kw.Address().Hex())
	}

	// Read cache, reader and background refetch
	cache := query.NewCache(cfg.CacheSize, cfg.CacheStaleTime, metricsCollector, logger)
	rd := reader.New(token, registry, cache, logger)
	refresher, err := reader.NewRefresher(rd, cfg.RefetchSchedule, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create refresher", "error", err)
		os.Exit(1)
	}
	refresher.Start()
	defer refresher.Stop()

	// Action history (optional)
	var history txn.HistoryStore
	var historyReader server.HistoryStore
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := db.NewStore(pool, metricsCollector)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		history = store
		historyReader = store
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, action history disabled")
	}

	// Action events over NATS (optional)
	var publisher txn.Publisher
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, action events disabled")
	}

	// Receipt waiting: durable through Temporal when configured, otherwise
	// polled in process.
	var waiter txn.ReceiptWaiter
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			temporal.ReceiptPolicy{PollInterval: cfg.ReceiptPollInterval, Timeout: cfg.ReceiptTimeout},
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		waiter = temporalClient
	} else {
		waiter = chain.NewReceiptPoller(chainClient, cfg.ReceiptPollInterval, cfg.ReceiptTimeout, logger)
	}

	runner, err := txn.NewRunner(txn.RunnerConfig{
		Waiter:    waiter,
		Publisher: publisher,
		History:   history,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create action runner", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP server
	deps := server.Deps{
		Config:    cfg,
		Reader:    rd,
		Transfers: transfer.NewService(rd, token, wallet, runner, logger),
		Admin: admin.NewService(admin.Config{
			Reader:      rd,
			Token:       token,
			Registry:    registry,
			Wallet:      wallet,
			Runner:      runner,
			ExplorerURL: cfg.ExplorerURL,
			Logger:      logger,
		}),
		Sessions: session.NewStore(cfg.SessionMax, cfg.SessionTTL, cfg.SessionCookieSecure, logger),
		Runner:   runner,
		History:  historyReader,
	}
	httpServer := server.New(cfg.ServerAddr, deps, ssePublisher, metricsCollector, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	logger.Info("server initialized, all dependencies ready",
		"token", cfg.PropertyTokenAddress,
		"registry", cfg.KYCRegistryAddress,
		"history", historyReader != nil,
		"nats", cfg.NATSURL != "",
		"temporal", cfg.TemporalHost != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}
		if err := runner.Close(shutdownCtx); err != nil {
			logger.Warn("actions still in flight at shutdown", "error", err)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
