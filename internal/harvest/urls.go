package harvest

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxReviewPages is the last review listing page Amazon serves per product.
const MaxReviewPages = 10

// PagePlaceholder marks where the search page index goes in a search URL
// template.
const PagePlaceholder = "{page}"

// DefaultSearchURLTemplate is the computers category search, sorted by
// popularity.
const DefaultSearchURLTemplate = "https://www.amazon.com/s?i=computers&rh=n%3A565108%2Cp_36%3A2421886011" +
	"&s=exact-aware-popularity-rank&page={page}&content-id=amzn1.sym.4d915fa8-ca05-4073-b385-a93e1e1dd22d" +
	"&pd_rd_r=a42c9ae5-5a10-4802-8c2f-5f25ef0e364a&pd_rd_w=aoUV0&pd_rd_wg=9r6MB" +
	"&pf_rd_p=4d915fa8-ca05-4073-b385-a93e1e1dd22d&pf_rd_r=B31SVVTK8X16Q535JREG&qid=1719941120&ref=sr_pg_{page}"

// DefaultBaseURL is the origin product links are resolved against.
const DefaultBaseURL = "https://www.amazon.com"

// SearchPageURL substitutes page into every placeholder of template.
func SearchPageURL(template string, page int) string {
	return strings.ReplaceAll(template, PagePlaceholder, strconv.Itoa(page))
}

// ReviewPageURL builds the review listing URL for page of a product
// detail path such as https://www.amazon.com/Name/dp/B000EXAMPLE/.
func ReviewPageURL(productPath string, page int) string {
	u := productPath + fmt.Sprintf(
		"ref=cm_cr_getr_d_paging_btm_next_%d?ie=UTF8&reviewerType=all_reviews&pageNumber=%d", page, page)
	return strings.Replace(u, "/dp/", "/product-reviews/", 1)
}

// ValidateSearchTemplate checks that template carries the page placeholder.
func ValidateSearchTemplate(template string) error {
	if !strings.Contains(template, PagePlaceholder) {
		return fmt.Errorf("search url template has no %s placeholder", PagePlaceholder)
	}
	return nil
}
