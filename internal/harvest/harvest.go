// Package harvest drives the nested traversal: search pages, the products
// listed on them and the review pages of each product, folding every
// review into a dataset.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-review-harvester/internal/dataset"
	"github.com/maltedev/amazon-review-harvester/internal/models"
	"github.com/maltedev/amazon-review-harvester/internal/parser"
	"github.com/maltedev/amazon-review-harvester/internal/telemetry"
)

// sinkFlushTimeout bounds the last delivery made after the harvest context
// was cancelled.
const sinkFlushTimeout = 10 * time.Second

// Renderer returns the rendered markup of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Sink receives every product's records after they were appended to the
// dataset.
type Sink interface {
	SaveProductHarvest(ctx context.Context, h *models.ProductHarvest) error
}

type Options struct {
	SearchURLTemplate string
	BaseURL           string
	// Dedup skips records whose dedup key is already in the dataset.
	Dedup bool
}

func (o Options) withDefaults() Options {
	if o.SearchURLTemplate == "" {
		o.SearchURLTemplate = DefaultSearchURLTemplate
	}
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	return o
}

// Report counts what a harvest did. Aborted products and failed search
// pages are not errors; they show up here.
type Report struct {
	RunID                string    `json:"run_id"`
	StartPage            int       `json:"start_page"`
	EndPage              int       `json:"end_page"`
	SearchPagesRequested int       `json:"search_pages_requested"`
	SearchPagesFailed    int       `json:"search_pages_failed"`
	ProductsDiscovered   int       `json:"products_discovered"`
	ProductsCompleted    int       `json:"products_completed"`
	ProductsAborted      int       `json:"products_aborted"`
	CardsWithoutLink     int       `json:"cards_without_link"`
	ReviewPagesRendered  int       `json:"review_pages_rendered"`
	RecordsAppended      int       `json:"records_appended"`
	DuplicatesSkipped    int       `json:"duplicates_skipped"`
	SinkErrors           int       `json:"sink_errors"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}

// Harvester runs harvests over a range of search pages. It is not safe for
// concurrent use; one harvest at a time.
type Harvester struct {
	renderer  Renderer
	discovery parser.Discoverer
	walker    *ReviewPageWalker
	sink      Sink
	opts      Options
	logger    *slog.Logger
}

func New(renderer Renderer, selectors parser.Selectors, opts Options, logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	extractor := parser.NewReviewExtractor(selectors)
	extractor.OnAbsentField(telemetry.ObserveAbsentField)

	return &Harvester{
		renderer:  renderer,
		discovery: parser.NewProductDiscovery(selectors, opts.BaseURL),
		walker:    NewReviewPageWalker(renderer, extractor, logger),
		opts:      opts,
		logger:    logger.With("component", "harvester"),
	}
}

// WithSink hands every product harvest to sink as well.
func (h *Harvester) WithSink(sink Sink) *Harvester {
	h.sink = sink
	return h
}

// Harvest walks search pages startPage..endPage inclusive in ascending
// order and appends records to ds in production order. A search page that
// fails to render is skipped. The only error returned is the context's;
// records gathered before cancellation stay in ds.
func (h *Harvester) Harvest(ctx context.Context, ds *dataset.Dataset, startPage, endPage int) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartPage: startPage,
		EndPage:   endPage,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	logger := h.logger.With("run_id", report.RunID)
	logger.Info("starting harvest", "start_page", startPage, "end_page", endPage, "dedup", h.opts.Dedup)

	for page := startPage; page <= endPage; page++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := h.harvestSearchPage(ctx, ds, page, report, logger); err != nil {
			return report, err
		}
	}

	logger.Info("harvest finished",
		"search_pages", report.SearchPagesRequested,
		"search_pages_failed", report.SearchPagesFailed,
		"products", report.ProductsDiscovered,
		"products_aborted", report.ProductsAborted,
		"records", report.RecordsAppended,
		"duplicates", report.DuplicatesSkipped)
	return report, nil
}

func (h *Harvester) harvestSearchPage(ctx context.Context, ds *dataset.Dataset, page int, report *Report, logger *slog.Logger) error {
	url := SearchPageURL(h.opts.SearchURLTemplate, page)
	report.SearchPagesRequested++

	start := time.Now()
	html, err := h.renderer.Render(ctx, url)
	telemetry.ObserveRender(telemetry.LevelSearch, err, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		report.SearchPagesFailed++
		logger.Warn("search page render failed, skipping", "search_page", page, "error", err)
		return nil
	}

	refs, stats, err := h.discovery.Discover(html)
	if err != nil {
		report.SearchPagesFailed++
		logger.Warn("search page unreadable, skipping", "search_page", page, "error", err)
		return nil
	}
	report.ProductsDiscovered += len(refs)
	report.CardsWithoutLink += stats.CardsNoAnchor
	telemetry.ObserveCardsWithoutLink(stats.CardsNoAnchor)

	logger.Info("search page rendered", "search_page", page, "cards", stats.Cards, "products", len(refs))

	for i, ref := range refs {
		logger.Info("harvesting product",
			"search_page", page, "product_index", i+1, "of", len(refs), "product", ref.Path)

		result := h.walker.Walk(ctx, ref.Path, page)
		report.ReviewPagesRendered += result.PagesRendered

		added, skipped := ds.Merge(result.Records, h.opts.Dedup)
		report.RecordsAppended += len(added)
		report.DuplicatesSkipped += skipped
		telemetry.ObserveRecords(len(result.Records))

		if result.Outcome.Completed {
			report.ProductsCompleted++
		} else {
			report.ProductsAborted++
		}
		telemetry.ObserveWalk(result.Outcome.Completed)

		// Rows already in ds are counted and delivered even when the walk
		// was cut short by cancellation.
		h.deliver(ctx, report, page, ref, result.Outcome, added, logger)

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// deliver hands the records one product appended to the dataset to the
// sink. Sink failures are logged and counted; the dataset already holds the
// records.
func (h *Harvester) deliver(ctx context.Context, report *Report, page int, ref models.ProductReference, outcome Outcome, records []models.ReviewRecord, logger *slog.Logger) {
	if h.sink == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), sinkFlushTimeout)
		defer cancel()
	}

	ph := &models.ProductHarvest{
		RunID:           report.RunID,
		SearchPageIndex: page,
		Product:         ref.Path,
		Records:         records,
		Completed:       outcome.Completed,
		AbortedAtPage:   outcome.Page,
		HarvestedAt:     time.Now(),
	}
	if err := h.sink.SaveProductHarvest(ctx, ph); err != nil {
		report.SinkErrors++
		logger.Error("failed to store product harvest", "product", ref.Path, "error", fmt.Errorf("sink: %w", err))
	}
}
