// Package parser reads review records and product links out of rendered
// Amazon markup.
package parser

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-harvester/internal/models"
)

// Extractor turns review entries into records.
type Extractor interface {
	ReviewEntries(doc *goquery.Document) []*goquery.Selection
	Extract(review *goquery.Selection, rc ReviewContext) models.ReviewRecord
}

// Discoverer lists the products on a search results page.
type Discoverer interface {
	Discover(html string) ([]models.ProductReference, DiscoveryStats, error)
}

var (
	_ Extractor  = (*ReviewExtractor)(nil)
	_ Discoverer = (*ProductDiscovery)(nil)
)
