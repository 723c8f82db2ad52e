package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/amazon-review-harvester/internal/api"
	"github.com/maltedev/amazon-review-harvester/internal/browser"
	"github.com/maltedev/amazon-review-harvester/internal/config"
	"github.com/maltedev/amazon-review-harvester/internal/database"
	"github.com/maltedev/amazon-review-harvester/internal/dataset"
	"github.com/maltedev/amazon-review-harvester/internal/events"
	"github.com/maltedev/amazon-review-harvester/internal/harvest"
	"github.com/maltedev/amazon-review-harvester/internal/jobs"
	"github.com/maltedev/amazon-review-harvester/internal/parser"
	"github.com/maltedev/amazon-review-harvester/internal/telemetry"
	"github.com/maltedev/amazon-review-harvester/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selectors, err := parser.LoadSelectors(cfg.Harvest.SelectorsFile)
	if err != nil {
		logger.Error("failed to load selectors", "error", err)
		os.Exit(1)
	}

	ds, err := dataset.Load(cfg.Harvest.DatasetFile)
	if err != nil {
		logger.Error("failed to load dataset", "file", cfg.Harvest.DatasetFile, "error", err)
		os.Exit(1)
	}
	logger.Info("dataset loaded", "file", cfg.Harvest.DatasetFile, "rows", ds.Len())

	var (
		sink  harvest.Sink
		relay *database.Relay
	)
	if cfg.Database.Enabled() {
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		sink = events.NewPublisher(db, logger)

		if cfg.Redis.Enabled() {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay = database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
				StreamMaxLen: cfg.Redis.StreamMaxLen,
			})
			go func() {
				if err := relay.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	// Each harvest gets its own browser session, released when it ends.
	runner := jobs.RunnerFunc(func(ctx context.Context, ds *dataset.Dataset, startPage, endPage int) (*harvest.Report, error) {
		b, err := browser.New(cfg.Browser.Options())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		defer b.Close()
		b.WithLogger(logger)

		h := harvest.New(b, selectors, cfg.Harvest.HarvestOptions(), logger)
		if sink != nil {
			h.WithSink(sink)
		}
		return h.Harvest(ctx, ds, startPage, endPage)
	})

	save := func(ds *dataset.Dataset) error {
		return ds.SaveCSV(cfg.Harvest.DatasetFile)
	}
	manager := jobs.NewManager(ctx, runner, ds, save, logger)

	var outbox api.OutboxStats
	if relay != nil {
		outbox = relay
	}
	handlers := api.NewHandlers(manager, outbox, cfg.Harvest.DatasetFile, logger)
	registry := telemetry.InitRegistry()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handlers, telemetry.MetricsHandler(registry)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	manager.Wait()
	logger.Info("server stopped")
}
