package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-harvester/internal/models"
)

// trackingMarker starts the tracking suffix Amazon appends to product links.
const trackingMarker = "ref="

// DiscoveryStats counts what product discovery saw on one search page.
type DiscoveryStats struct {
	Cards          int
	CardsNoAnchor  int
	ProductsListed int
}

// ProductDiscovery finds product references on rendered search pages.
type ProductDiscovery struct {
	selectors Selectors
	baseURL   string
}

func NewProductDiscovery(selectors Selectors, baseURL string) *ProductDiscovery {
	return &ProductDiscovery{
		selectors: selectors,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Discover returns one reference per search result card that carries a
// link, in page order. Cards without a link are counted and skipped.
func (d *ProductDiscovery) Discover(html string) ([]models.ProductReference, DiscoveryStats, error) {
	var stats DiscoveryStats

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, stats, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var refs []models.ProductReference
	doc.Find(d.selectors.SearchResult.CSS).Each(func(_ int, card *goquery.Selection) {
		stats.Cards++

		href, ok := card.Find(d.selectors.ProductLink.CSS).First().Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			stats.CardsNoAnchor++
			return
		}

		refs = append(refs, models.ProductReference{Path: d.ProductPath(href)})
	})

	stats.ProductsListed = len(refs)
	return refs, stats, nil
}

// ProductPath strips the tracking suffix and query from a search result
// link and makes it absolute.
func (d *ProductDiscovery) ProductPath(href string) string {
	if i := strings.Index(href, trackingMarker); i >= 0 {
		href = href[:i]
	}
	if i := strings.Index(href, "?"); i >= 0 {
		href = href[:i]
	}

	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return d.baseURL + href
}
