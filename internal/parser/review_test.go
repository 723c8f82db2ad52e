package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/amazon-review-harvester/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReviewURL = "https://www.amazon.com/ThinkPad-X1/product-reviews/B000EXAMPLE/" +
	"ref=cm_cr_getr_d_paging_btm_next_2?ie=UTF8&reviewerType=all_reviews&pageNumber=2"

var reviewParts = map[string]string{
	models.ColTitle: `<a data-hook="review-title" href="#">
		<span class="a-icon-alt">5.0 out of 5 stars</span>
		<span>Fast and quiet</span>
	</a>`,
	models.ColRating:        `<i data-hook="review-star-rating"><span>5.0 out of 5 stars</span></i>`,
	models.ColReviewer:      `<span class="a-profile-name">Jane D.</span>`,
	models.ColDate:          `<span data-hook="review-date">Reviewed in the United States on June 3, 2024</span>`,
	models.ColVerifiedBadge: `<span data-hook="avp-badge">Verified Purchase</span>`,
	models.ColReviewText:    `<span data-hook="review-body"> Boots in seconds. </span>`,
	models.ColHelpfulCount:  `<span data-hook="helpful-vote-statement">12 people found this helpful</span>`,
}

// reviewHTML renders one review entry without the listed fields.
func reviewHTML(without ...string) string {
	skip := map[string]bool{}
	for _, w := range without {
		skip[w] = true
	}

	var b strings.Builder
	b.WriteString(`<div data-hook="review" class="a-section review">`)
	for _, col := range []string{
		models.ColTitle, models.ColRating, models.ColReviewer, models.ColDate,
		models.ColVerifiedBadge, models.ColReviewText, models.ColHelpfulCount,
	} {
		if !skip[col] {
			b.WriteString(reviewParts[col])
		}
	}
	b.WriteString(`</div>`)
	return b.String()
}

func firstReview(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	entries := NewReviewExtractor(DefaultSelectors()).ReviewEntries(doc)
	require.NotEmpty(t, entries)
	return entries[0]
}

func TestExtractFullyPopulated(t *testing.T) {
	e := NewReviewExtractor(DefaultSelectors())
	rec := e.Extract(firstReview(t, reviewHTML()), ReviewContext{
		ReviewPageURL:   testReviewURL,
		ReviewPageIndex: 2,
		SearchPageIndex: 5,
	})

	require.NotNil(t, rec.ProductIdentifier)
	assert.Equal(t, "B000EXAMPLE", *rec.ProductIdentifier)
	assert.Equal(t, "ThinkPad-X1", *rec.ProductName)
	assert.Equal(t, "Fast and quiet", *rec.Title)
	assert.Equal(t, "5.0 out of 5 stars", *rec.Rating)
	assert.Equal(t, "Jane D.", *rec.Reviewer)
	assert.Equal(t, "Reviewed in the United States on June 3, 2024", *rec.Date)
	assert.Equal(t, "Verified Purchase", *rec.VerifiedBadge)
	assert.Equal(t, "Boots in seconds.", *rec.ReviewText)
	assert.Equal(t, "12 people found this helpful", *rec.HelpfulCount)
	assert.Equal(t, 2, rec.ReviewPageIndex)
	assert.Equal(t, 5, rec.SearchPageIndex)
}

func TestExtractFieldIndependence(t *testing.T) {
	fields := []string{
		models.ColTitle, models.ColRating, models.ColReviewer, models.ColDate,
		models.ColVerifiedBadge, models.ColReviewText, models.ColHelpfulCount,
	}

	for _, missing := range fields {
		t.Run(missing, func(t *testing.T) {
			var absent []string
			e := NewReviewExtractor(DefaultSelectors())
			e.OnAbsentField(func(field string) { absent = append(absent, field) })

			rec := e.Extract(firstReview(t, reviewHTML(missing)), ReviewContext{
				ReviewPageURL:   testReviewURL,
				ReviewPageIndex: 1,
				SearchPageIndex: 1,
			})

			header := models.Header()
			for i, v := range rec.Values() {
				if header[i] == missing {
					assert.Nil(t, v, "field %s should be null", header[i])
				} else {
					assert.NotNil(t, v, "field %s should be populated", header[i])
				}
			}
			assert.Equal(t, []string{missing}, absent)
		})
	}
}

func TestExtractEmptyReview(t *testing.T) {
	e := NewReviewExtractor(DefaultSelectors())
	rec := e.Extract(firstReview(t, `<div data-hook="review"></div>`), ReviewContext{
		ReviewPageURL:   "B01",
		ReviewPageIndex: 3,
		SearchPageIndex: 4,
	})

	assert.Nil(t, rec.ProductIdentifier)
	assert.Nil(t, rec.ProductName)
	assert.Nil(t, rec.Title)
	assert.Nil(t, rec.VerifiedBadge)
	assert.Equal(t, 3, rec.ReviewPageIndex)
	assert.Equal(t, 4, rec.SearchPageIndex)
}

func TestExtractStarOnlyTitle(t *testing.T) {
	html := `<div data-hook="review">
		<a data-hook="review-title" href="#"><span>5.0 out of 5 stars</span></a>
		<span data-hook="review-body">   </span>
	</div>`

	var absent []string
	e := NewReviewExtractor(DefaultSelectors())
	e.OnAbsentField(func(field string) { absent = append(absent, field) })

	rec := e.Extract(firstReview(t, html), ReviewContext{ReviewPageURL: testReviewURL, ReviewPageIndex: 1, SearchPageIndex: 1})

	assert.Nil(t, rec.Title)
	assert.Nil(t, rec.ReviewText)
	assert.Contains(t, absent, models.ColTitle)
	assert.Contains(t, absent, models.ColReviewText)
}

func TestReviewEntries(t *testing.T) {
	html := fmt.Sprintf(`<html><body><div id="cm_cr-review_list">%s%s%s</div></body></html>`,
		reviewHTML(), reviewHTML(models.ColRating), reviewHTML())
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	entries := NewReviewExtractor(DefaultSelectors()).ReviewEntries(doc)
	assert.Len(t, entries, 3)
}

func TestLookupLine(t *testing.T) {
	tests := []struct {
		name string
		html string
		line int
		want Field
	}{
		{"whole text", `<p class="x"> a </p>`, 0, Field{Value: "a", OK: true}},
		{"second line", "<p class=\"x\">one\n  two\n</p>", 2, Field{Value: "two", OK: true}},
		{"single line has no second line", `<p class="x">only</p>`, 2, Absent},
		{"line out of range", "<p class=\"x\">one\ntwo</p>", 3, Absent},
		{"blank text", "<p class=\"x\">  \n </p>", 2, Absent},
		{"missing node", `<p>none</p>`, 0, Absent},
		{"empty node", `<p class="x"></p>`, 0, Absent},
		{"whitespace only node", "<p class=\"x\">   \n\t</p>", 0, Absent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			got := Lookup(doc.Selection, Selector{CSS: "p.x", Line: tt.line})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProductFieldsFromURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantID   Field
		wantName Field
	}{
		{
			name:     "named product",
			url:      testReviewURL,
			wantID:   Field{Value: "B000EXAMPLE", OK: true},
			wantName: Field{Value: "ThinkPad-X1", OK: true},
		},
		{
			name:     "bare product path",
			url:      "https://site.example/product-reviews/B000EXAMPLE/ref=x?pageNumber=1",
			wantID:   Field{Value: "B000EXAMPLE", OK: true},
			wantName: Field{Value: "site.example", OK: true},
		},
		{
			name:     "too few segments",
			url:      "B000EXAMPLE/ref",
			wantID:   Field{Value: "B000EXAMPLE", OK: true},
			wantName: Absent,
		},
		{
			name:     "no segments",
			url:      "",
			wantID:   Absent,
			wantName: Absent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, name := ProductFieldsFromURL(tt.url)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantName, name)
		})
	}
}
