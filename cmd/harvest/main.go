package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-review-harvester/internal/browser"
	"github.com/maltedev/amazon-review-harvester/internal/config"
	"github.com/maltedev/amazon-review-harvester/internal/database"
	"github.com/maltedev/amazon-review-harvester/internal/dataset"
	"github.com/maltedev/amazon-review-harvester/internal/events"
	"github.com/maltedev/amazon-review-harvester/internal/harvest"
	"github.com/maltedev/amazon-review-harvester/internal/parser"
	"github.com/maltedev/amazon-review-harvester/pkg/logger"
)

func main() {
	var (
		startPage     = flag.Int("start", 1, "First search page to harvest")
		endPage       = flag.Int("end", 1, "Last search page to harvest (inclusive)")
		datasetFile   = flag.String("dataset", "", "Dataset CSV file (default HARVEST_DATASET_FILE)")
		exportFile    = flag.String("export", "", "Write an .xlsx copy of the dataset after harvesting")
		cleanNewlines = flag.Bool("clean-newlines", false, "Strip line breaks from review text in the export")
		initOnly      = flag.Bool("init", false, "Create a header-only dataset file and exit")
		dedup         = flag.Bool("dedup", false, "Skip reviews already present in the dataset")
		selectorsFile = flag.String("selectors", "", "json5 file overriding markup selectors")
		useDB         = flag.Bool("db", false, "Store reviews in Postgres (requires DB_HOST)")
		headless      = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, *datasetFile, *exportFile, *selectorsFile, *dedup, *cleanNewlines)

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if *initOnly {
		created, err := dataset.InitCSV(cfg.Harvest.DatasetFile)
		if err != nil {
			logger.Error("failed to initialise dataset", "file", cfg.Harvest.DatasetFile, "error", err)
			os.Exit(1)
		}
		logger.Info("dataset initialised", "file", cfg.Harvest.DatasetFile, "created", created)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, finishing current page")
		cancel()
	}()

	if err := run(ctx, cfg, *startPage, *endPage, *useDB, *headless, logger); err != nil {
		logger.Error("harvest failed", "error", err)
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, datasetFile, exportFile, selectorsFile string, dedup, cleanNewlines bool) {
	if datasetFile != "" {
		cfg.Harvest.DatasetFile = datasetFile
	}
	if exportFile != "" {
		cfg.Harvest.ExportFile = exportFile
	}
	if selectorsFile != "" {
		cfg.Harvest.SelectorsFile = selectorsFile
	}
	cfg.Harvest.Dedup = cfg.Harvest.Dedup || dedup
	cfg.Harvest.CleanNewlines = cfg.Harvest.CleanNewlines || cleanNewlines
}

func run(ctx context.Context, cfg *config.Config, startPage, endPage int, useDB, headless bool, logger *slog.Logger) error {
	selectors, err := parser.LoadSelectors(cfg.Harvest.SelectorsFile)
	if err != nil {
		return err
	}

	ds, err := dataset.Load(cfg.Harvest.DatasetFile)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded", "file", cfg.Harvest.DatasetFile, "rows", ds.Len())

	opts := cfg.Browser.Options()
	opts.Headless = opts.Headless && headless
	b, err := browser.New(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer b.Close()
	b.WithLogger(logger)

	h := harvest.New(b, selectors, cfg.Harvest.HarvestOptions(), logger)

	if useDB {
		if !cfg.Database.Enabled() {
			return fmt.Errorf("-db requires DB_HOST")
		}
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		h.WithSink(events.NewPublisher(db, logger))
	}

	report, harvestErr := h.Harvest(ctx, ds, startPage, endPage)

	// Persist whatever was gathered, including after cancellation.
	if err := ds.SaveCSV(cfg.Harvest.DatasetFile); err != nil {
		return fmt.Errorf("failed to save dataset: %w", err)
	}
	logger.Info("dataset saved",
		"file", cfg.Harvest.DatasetFile,
		"rows", ds.Len(),
		"appended", report.RecordsAppended,
		"products_aborted", report.ProductsAborted,
		"search_pages_failed", report.SearchPagesFailed)

	if cfg.Harvest.ExportFile != "" {
		if err := ds.ExportXLSX(cfg.Harvest.ExportFile, dataset.ExportOptions{CleanNewlines: cfg.Harvest.CleanNewlines}); err != nil {
			return fmt.Errorf("failed to export dataset: %w", err)
		}
		logger.Info("dataset exported", "file", cfg.Harvest.ExportFile)
	}

	return harvestErr
}
