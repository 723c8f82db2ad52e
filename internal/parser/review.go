package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-harvester/internal/models"
)

// Field is the result of one isolated markup lookup.
type Field struct {
	Value string
	OK    bool
}

// Absent is the lookup result for a field the markup did not carry.
var Absent = Field{}

// Ptr converts the field into the nullable form stored on a record.
func (f Field) Ptr() *string {
	if !f.OK {
		return nil
	}
	v := f.Value
	return &v
}

// ReviewContext carries what the extractor needs beyond the review markup.
type ReviewContext struct {
	ReviewPageURL   string
	ReviewPageIndex int
	SearchPageIndex int
}

// ReviewExtractor turns review entry markup into ReviewRecords.
type ReviewExtractor struct {
	selectors Selectors
	// onAbsent is told about every field that resolved to null.
	onAbsent func(field string)
}

func NewReviewExtractor(selectors Selectors) *ReviewExtractor {
	return &ReviewExtractor{selectors: selectors}
}

// OnAbsentField registers a callback for fields that resolve to null.
func (e *ReviewExtractor) OnAbsentField(fn func(field string)) {
	e.onAbsent = fn
}

// ReviewEntries returns every review entry on a rendered review page.
func (e *ReviewExtractor) ReviewEntries(doc *goquery.Document) []*goquery.Selection {
	var entries []*goquery.Selection
	doc.Find(e.selectors.ReviewEntry.CSS).Each(func(_ int, s *goquery.Selection) {
		entries = append(entries, s)
	})
	return entries
}

// Extract builds one record from a review entry. It never fails; fields
// that cannot be found are left nil independently of each other.
func (e *ReviewExtractor) Extract(review *goquery.Selection, rc ReviewContext) models.ReviewRecord {
	identifier, name := ProductFieldsFromURL(rc.ReviewPageURL)

	fields := []struct {
		column string
		field  Field
	}{
		{models.ColProductIdentifier, identifier},
		{models.ColProductName, name},
		{models.ColTitle, Lookup(review, e.selectors.Title)},
		{models.ColDate, Lookup(review, e.selectors.Date)},
		{models.ColReviewText, Lookup(review, e.selectors.ReviewText)},
		{models.ColRating, Lookup(review, e.selectors.Rating)},
		{models.ColReviewer, Lookup(review, e.selectors.Reviewer)},
		{models.ColHelpfulCount, Lookup(review, e.selectors.HelpfulCount)},
		{models.ColVerifiedBadge, Lookup(review, e.selectors.VerifiedBadge)},
	}

	record := models.ReviewRecord{
		ReviewPageIndex: rc.ReviewPageIndex,
		SearchPageIndex: rc.SearchPageIndex,
	}
	targets := []**string{
		&record.ProductIdentifier,
		&record.ProductName,
		&record.Title,
		&record.Date,
		&record.ReviewText,
		&record.Rating,
		&record.Reviewer,
		&record.HelpfulCount,
		&record.VerifiedBadge,
	}

	for i, f := range fields {
		*targets[i] = f.field.Ptr()
		if !f.field.OK && e.onAbsent != nil {
			e.onAbsent(f.column)
		}
	}

	return record
}

// Lookup finds the first node matching sel inside s and reads its trimmed
// text. A missing node and a node with no text are both absent, so a field
// reads the same before and after a CSV round trip.
func Lookup(s *goquery.Selection, sel Selector) Field {
	if s == nil || sel.CSS == "" {
		return Absent
	}

	node := s.Find(sel.CSS).First()
	if node.Length() == 0 {
		return Absent
	}

	text := strings.TrimSpace(node.Text())
	if text == "" {
		return Absent
	}
	if sel.Line == 0 {
		return Field{Value: text, OK: true}
	}
	return pickLine(text, sel.Line)
}

// pickLine keeps one non-blank line of a multi-line node. A node with fewer
// lines than asked for, a single line included, yields Absent: a title
// anchor carrying only the star text has no title.
func pickLine(text string, line int) Field {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	if line > len(lines) {
		return Absent
	}
	return Field{Value: lines[line-1], OK: true}
}

// ProductFieldsFromURL derives the product identifier and name from a
// review page URL of the form
// https://host/<name>/product-reviews/<identifier>/ref=...?pageNumber=N.
// The identifier is the second to last slash-separated segment and the
// name the fourth to last.
func ProductFieldsFromURL(reviewPageURL string) (identifier, name Field) {
	segments := strings.Split(reviewPageURL, "/")
	return segmentFromEnd(segments, 2), segmentFromEnd(segments, 4)
}

func segmentFromEnd(segments []string, n int) Field {
	if len(segments) < n {
		return Absent
	}
	seg := segments[len(segments)-n]
	if seg == "" {
		return Absent
	}
	return Field{Value: seg, OK: true}
}
