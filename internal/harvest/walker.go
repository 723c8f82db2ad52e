package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-harvester/internal/models"
	"github.com/maltedev/amazon-review-harvester/internal/parser"
	"github.com/maltedev/amazon-review-harvester/internal/telemetry"
)

// ErrRenderFailed wraps every failure to obtain usable markup for a page.
var ErrRenderFailed = errors.New("render failed")

// Outcome says how a product walk ended.
type Outcome struct {
	Completed bool
	// Page is the review page whose render failed. Zero when completed.
	Page int
	Err  error
}

// Aborted reports whether the walk stopped before the last review page.
func (o Outcome) Aborted() bool {
	return !o.Completed
}

func (o Outcome) String() string {
	if o.Completed {
		return "completed"
	}
	return fmt.Sprintf("aborted at page %d: %v", o.Page, o.Err)
}

// WalkResult is what one product walk produced.
type WalkResult struct {
	Records       []models.ReviewRecord
	Outcome       Outcome
	PagesRendered int
}

// ReviewPageWalker walks the review listing of one product.
type ReviewPageWalker struct {
	renderer  Renderer
	extractor parser.Extractor
	logger    *slog.Logger
}

func NewReviewPageWalker(renderer Renderer, extractor parser.Extractor, logger *slog.Logger) *ReviewPageWalker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewPageWalker{
		renderer:  renderer,
		extractor: extractor,
		logger:    logger.With("component", "review_walker"),
	}
}

// Walk renders review pages 1..MaxReviewPages of productPath in order and
// extracts every review entry. The first page that cannot be rendered
// ends the walk; records from earlier pages are kept and the failing page
// is reported in the outcome.
func (w *ReviewPageWalker) Walk(ctx context.Context, productPath string, searchPage int) WalkResult {
	var result WalkResult

	for page := 1; page <= MaxReviewPages; page++ {
		if err := ctx.Err(); err != nil {
			result.Outcome = Outcome{Page: page, Err: err}
			return result
		}

		url := ReviewPageURL(productPath, page)
		doc, err := w.render(ctx, url)
		if err != nil {
			w.logger.Warn("review page render failed, abandoning product",
				"product", productPath, "review_page", page, "error", err)
			result.Outcome = Outcome{Page: page, Err: err}
			return result
		}
		result.PagesRendered++

		rc := parser.ReviewContext{
			ReviewPageURL:   url,
			ReviewPageIndex: page,
			SearchPageIndex: searchPage,
		}
		entries := w.extractor.ReviewEntries(doc)
		for _, entry := range entries {
			result.Records = append(result.Records, w.extractor.Extract(entry, rc))
		}

		w.logger.Debug("review page extracted",
			"product", productPath, "review_page", page, "reviews", len(entries))
	}

	result.Outcome = Outcome{Completed: true}
	return result
}

func (w *ReviewPageWalker) render(ctx context.Context, url string) (*goquery.Document, error) {
	start := time.Now()
	html, err := w.renderer.Render(ctx, url)
	telemetry.ObserveRender(telemetry.LevelReview, err, time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML: %w", ErrRenderFailed, err)
	}
	return doc, nil
}
