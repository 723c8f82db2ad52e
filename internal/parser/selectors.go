package parser

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Selector locates one node relative to a containing selection.
type Selector struct {
	CSS string `json:"css"`
	// Line picks a 1-based line of a multi-line text node. Zero keeps the
	// whole text.
	Line int `json:"line,omitempty"`
}

// Selectors maps every logical field the harvester reads to the markup
// that carries it.
type Selectors struct {
	SearchResult Selector `json:"search_result"`
	ProductLink  Selector `json:"product_link"`
	ReviewEntry  Selector `json:"review_entry"`

	Title         Selector `json:"title"`
	Date          Selector `json:"date"`
	ReviewText    Selector `json:"review_text"`
	Rating        Selector `json:"rating"`
	Reviewer      Selector `json:"reviewer"`
	HelpfulCount  Selector `json:"helpful_count"`
	VerifiedBadge Selector `json:"verified_badge"`
}

const searchResultCard = "div.sg-col-4-of-24.sg-col-4-of-12.s-result-item.s-asin.sg-col-4-of-16" +
	".sg-col.s-widget-spacing-small.sg-col-4-of-20.gsx-ies-anchor"

func DefaultSelectors() Selectors {
	return Selectors{
		SearchResult: Selector{CSS: searchResultCard},
		ProductLink:  Selector{CSS: "a[href]"},
		ReviewEntry:  Selector{CSS: `div[data-hook="review"]`},

		Title:         Selector{CSS: `a[data-hook="review-title"]`, Line: 2},
		Date:          Selector{CSS: `span[data-hook="review-date"]`},
		ReviewText:    Selector{CSS: `span[data-hook="review-body"]`},
		Rating:        Selector{CSS: `i[data-hook="review-star-rating"]`},
		Reviewer:      Selector{CSS: "span.a-profile-name"},
		HelpfulCount:  Selector{CSS: `span[data-hook="helpful-vote-statement"]`},
		VerifiedBadge: Selector{CSS: `span[data-hook="avp-badge"]`},
	}
}

// LoadSelectors reads a json5 file of selector overrides and merges it onto
// the defaults. Entries absent from the file keep their default. An empty
// path or a missing file yields the defaults.
//
// mergo skips zero values, so an explicit "line": 0 (whole text) is applied
// in a second pass over the file.
func LoadSelectors(path string) (Selectors, error) {
	selectors := DefaultSelectors()
	if path == "" {
		return selectors, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return selectors, nil
		}
		return selectors, fmt.Errorf("failed to read selectors file: %w", err)
	}

	var override Selectors
	if err := json5.Unmarshal(data, &override); err != nil {
		return selectors, fmt.Errorf("failed to parse selectors file %s: %w", path, err)
	}

	if err := mergo.Merge(&selectors, override, mergo.WithOverride); err != nil {
		return selectors, fmt.Errorf("failed to merge selectors: %w", err)
	}

	var lines map[string]struct {
		Line *int `json:"line"`
	}
	if err := json5.Unmarshal(data, &lines); err != nil {
		return selectors, fmt.Errorf("failed to parse selectors file %s: %w", path, err)
	}
	named := selectors.byName()
	for name, entry := range lines {
		if sel, ok := named[name]; ok && entry.Line != nil {
			sel.Line = *entry.Line
		}
	}

	return selectors, selectors.Validate()
}

// byName addresses every selector by its file key.
func (s *Selectors) byName() map[string]*Selector {
	return map[string]*Selector{
		"search_result":  &s.SearchResult,
		"product_link":   &s.ProductLink,
		"review_entry":   &s.ReviewEntry,
		"title":          &s.Title,
		"date":           &s.Date,
		"review_text":    &s.ReviewText,
		"rating":         &s.Rating,
		"reviewer":       &s.Reviewer,
		"helpful_count":  &s.HelpfulCount,
		"verified_badge": &s.VerifiedBadge,
	}
}

// Validate reports the first selector, in file key order, left without a
// CSS expression or with a negative line.
func (s Selectors) Validate() error {
	named := s.byName()
	for _, name := range []string{
		"search_result", "product_link", "review_entry", "title", "date",
		"review_text", "rating", "reviewer", "helpful_count", "verified_badge",
	} {
		sel := named[name]
		if sel.CSS == "" {
			return fmt.Errorf("selector %q has no css expression", name)
		}
		if sel.Line < 0 {
			return fmt.Errorf("selector %q has negative line %d", name, sel.Line)
		}
	}
	return nil
}
