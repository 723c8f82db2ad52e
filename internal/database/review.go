package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/amazon-review-harvester/internal/models"
)

var reviewColumns = []string{
	"run_id", "product_path",
	models.ColProductIdentifier, models.ColProductName, models.ColTitle, models.ColDate,
	models.ColReviewText, models.ColRating, models.ColReviewer, models.ColHelpfulCount,
	models.ColVerifiedBadge, models.ColReviewPageIndex, models.ColSearchPageIndex,
	"harvested_at",
}

// ReviewRepository stores harvested review records. It only writes inside
// a caller's transaction, next to the outbox event describing them.
type ReviewRepository struct{}

func NewReviewRepository() *ReviewRepository {
	return &ReviewRepository{}
}

// InsertWithTx copies every record of h into the reviews table within tx.
func (r *ReviewRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, h *models.ProductHarvest) (int64, error) {
	if len(h.Records) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"reviews"}, reviewColumns, pgx.CopyFromRows(reviewRows(h)))
	if err != nil {
		return 0, fmt.Errorf("failed to copy reviews: %w", err)
	}
	return n, nil
}

func reviewRows(h *models.ProductHarvest) [][]any {
	harvestedAt := h.HarvestedAt
	if harvestedAt.IsZero() {
		harvestedAt = time.Now()
	}

	rows := make([][]any, 0, len(h.Records))
	for _, rec := range h.Records {
		rows = append(rows, []any{
			h.RunID, h.Product,
			rec.ProductIdentifier, rec.ProductName, rec.Title, rec.Date,
			rec.ReviewText, rec.Rating, rec.Reviewer, rec.HelpfulCount,
			rec.VerifiedBadge, rec.ReviewPageIndex, rec.SearchPageIndex,
			harvestedAt,
		})
	}
	return rows
}
