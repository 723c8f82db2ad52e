package models

import (
	"fmt"
	"strconv"
	"time"
)

// Column names of the review dataset, in declared order.
const (
	ColProductIdentifier = "product_identifier"
	ColProductName       = "product_name"
	ColTitle             = "title"
	ColDate              = "date"
	ColReviewText        = "review_text"
	ColRating            = "rating"
	ColReviewer          = "reviewer"
	ColHelpfulCount      = "helpful_count"
	ColVerifiedBadge     = "verified_badge"
	ColReviewPageIndex   = "review_page_index"
	ColSearchPageIndex   = "search_page_index"
)

// NumColumns is the fixed width of every dataset row.
const NumColumns = 11

var header = [NumColumns]string{
	ColProductIdentifier,
	ColProductName,
	ColTitle,
	ColDate,
	ColReviewText,
	ColRating,
	ColReviewer,
	ColHelpfulCount,
	ColVerifiedBadge,
	ColReviewPageIndex,
	ColSearchPageIndex,
}

// Header returns a copy of the fixed dataset header.
func Header() []string {
	h := make([]string, NumColumns)
	copy(h, header[:])
	return h
}

// ReviewRecord is one harvested review. Textual fields are nil when the
// underlying markup did not carry them.
type ReviewRecord struct {
	ProductIdentifier *string `json:"product_identifier"`
	ProductName       *string `json:"product_name"`
	Title             *string `json:"title"`
	Date              *string `json:"date"`
	ReviewText        *string `json:"review_text"`
	Rating            *string `json:"rating"`
	Reviewer          *string `json:"reviewer"`
	HelpfulCount      *string `json:"helpful_count"`
	VerifiedBadge     *string `json:"verified_badge"`
	ReviewPageIndex   int     `json:"review_page_index"`
	SearchPageIndex   int     `json:"search_page_index"`
}

// Values returns the record as positional values aligned to Header.
// Nil fields come back as nil.
func (r ReviewRecord) Values() [NumColumns]*string {
	reviewPage := strconv.Itoa(r.ReviewPageIndex)
	searchPage := strconv.Itoa(r.SearchPageIndex)
	return [NumColumns]*string{
		r.ProductIdentifier,
		r.ProductName,
		r.Title,
		r.Date,
		r.ReviewText,
		r.Rating,
		r.Reviewer,
		r.HelpfulCount,
		r.VerifiedBadge,
		&reviewPage,
		&searchPage,
	}
}

// Row renders the record as text cells, nil becoming the empty string.
func (r ReviewRecord) Row() []string {
	values := r.Values()
	row := make([]string, NumColumns)
	for i, v := range values {
		if v != nil {
			row[i] = *v
		}
	}
	return row
}

// RecordFromRow parses a persisted row back into a record. Empty text
// cells become nil.
func RecordFromRow(row []string) (ReviewRecord, error) {
	if len(row) != NumColumns {
		return ReviewRecord{}, fmt.Errorf("expected %d columns, got %d", NumColumns, len(row))
	}

	reviewPage, err := strconv.Atoi(row[9])
	if err != nil {
		return ReviewRecord{}, fmt.Errorf("invalid %s %q: %w", ColReviewPageIndex, row[9], err)
	}
	searchPage, err := strconv.Atoi(row[10])
	if err != nil {
		return ReviewRecord{}, fmt.Errorf("invalid %s %q: %w", ColSearchPageIndex, row[10], err)
	}

	return ReviewRecord{
		ProductIdentifier: nullable(row[0]),
		ProductName:       nullable(row[1]),
		Title:             nullable(row[2]),
		Date:              nullable(row[3]),
		ReviewText:        nullable(row[4]),
		Rating:            nullable(row[5]),
		Reviewer:          nullable(row[6]),
		HelpfulCount:      nullable(row[7]),
		VerifiedBadge:     nullable(row[8]),
		ReviewPageIndex:   reviewPage,
		SearchPageIndex:   searchPage,
	}, nil
}

// DedupKey identifies a review for idempotent re-harvesting.
type DedupKey struct {
	ProductIdentifier string
	ReviewPageIndex   int
	SearchPageIndex   int
	Title             string
	Date              string
}

func (r ReviewRecord) DedupKey() DedupKey {
	return DedupKey{
		ProductIdentifier: deref(r.ProductIdentifier),
		ReviewPageIndex:   r.ReviewPageIndex,
		SearchPageIndex:   r.SearchPageIndex,
		Title:             deref(r.Title),
		Date:              deref(r.Date),
	}
}

// ProductReference is the absolute path of a product detail page with
// tracking parameters removed.
type ProductReference struct {
	Path string `json:"path"`
}

// ProductHarvest is what one product walk produced, handed to sinks.
type ProductHarvest struct {
	RunID           string         `json:"run_id"`
	SearchPageIndex int            `json:"search_page_index"`
	Product         string         `json:"product"`
	Records         []ReviewRecord `json:"-"`
	Completed       bool           `json:"completed"`
	AbortedAtPage   int            `json:"aborted_at_page,omitempty"`
	HarvestedAt     time.Time      `json:"harvested_at"`
}

// String returns a pointer to s, for building records by hand.
func String(s string) *string {
	return &s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
