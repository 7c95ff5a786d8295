package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikusha1446/real-time-leaderboard/internal/config"
	"github.com/nikusha1446/real-time-leaderboard/internal/handler"
	"github.com/nikusha1446/real-time-leaderboard/internal/kafka"
	"github.com/nikusha1446/real-time-leaderboard/internal/metrics"
	"github.com/nikusha1446/real-time-leaderboard/internal/postgres"
	"github.com/nikusha1446/real-time-leaderboard/internal/redis"
	"github.com/nikusha1446/real-time-leaderboard/internal/service"
	"github.com/nikusha1446/real-time-leaderboard/internal/websocket"
	"github.com/nikusha1446/real-time-leaderboard/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("invalid configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
		slog.Warn("config file not found, using defaults", "path", *configPath)
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewManager()

	// Initialize Redis. The connection is opened once; a failure here is
	// fatal and a later transport failure leaves the service unready until
	// it is restarted.
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	conn := redis.NewConn(&cfg.Redis, logger)
	if err := conn.Connect(ctx); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			logger.Error("failed to close Redis connection", "error", err)
		}
	}()
	m.RegisterReadiness(conn.IsReady)

	store := redis.NewScoreStore(conn, logger)
	ledger := redis.NewLedger(conn, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger, m)
	go wsHub.Run()

	opts := []service.Option{
		service.WithBroadcaster(wsHub),
		service.WithMetrics(m),
	}

	// Initialize PostgreSQL
	var syncWorker *worker.SyncWorker
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		opts = append(opts, service.WithEventRecorder(repo))

		syncWorker = worker.NewSyncWorker(store, repo, &cfg.Sync, m, logger)

		// Re-add snapshotted entries missing from Redis
		if err := syncWorker.SyncAllFromDatabase(ctx); err != nil {
			logger.Warn("failed to restore boards from database", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	leaderboardService := service.NewLeaderboardService(store, ledger, &cfg.Leaderboard, logger, opts...)

	// Initialize Kafka consumer for trusted score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, m, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			startCtx, startCancel := context.WithTimeout(ctx, cfg.Kafka.StartTimeout)
			if err := kafkaConsumer.Start(startCtx); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				_ = kafkaConsumer.Stop()
				kafkaConsumer = nil
			}
			startCancel()
		}
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, m, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}
