package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardClass = "sg-col-4-of-24 sg-col-4-of-12 s-result-item s-asin sg-col-4-of-16 sg-col " +
	"s-widget-spacing-small sg-col-4-of-20 gsx-ies-anchor"

func TestDiscover(t *testing.T) {
	html := `<html><body>
		<div class="` + cardClass + `"><h2><a href="/ThinkPad-X1/dp/B000EXAMPLE/ref=sr_1_1?keywords=laptop">X1</a></h2></div>
		<div class="` + cardClass + `"><span>sponsored, no link</span></div>
		<div class="s-result-item"><a href="/dp/NOTACARD/ref=sr_1_9">wrong signature</a></div>
		<div class="` + cardClass + `"><a href="https://www.amazon.com/dp/B0ABSOLUTE/ref=sr_1_3">abs</a></div>
	</body></html>`

	d := NewProductDiscovery(DefaultSelectors(), "https://www.amazon.com/")
	refs, stats, err := d.Discover(html)
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, "https://www.amazon.com/ThinkPad-X1/dp/B000EXAMPLE/", refs[0].Path)
	assert.Equal(t, "https://www.amazon.com/dp/B0ABSOLUTE/", refs[1].Path)

	assert.Equal(t, 3, stats.Cards)
	assert.Equal(t, 1, stats.CardsNoAnchor)
	assert.Equal(t, 2, stats.ProductsListed)
}

func TestDiscoverNoCards(t *testing.T) {
	d := NewProductDiscovery(DefaultSelectors(), "https://www.amazon.com")
	refs, stats, err := d.Discover(`<html><body><p>no results</p></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Zero(t, stats.Cards)
}

func TestProductPath(t *testing.T) {
	d := NewProductDiscovery(DefaultSelectors(), "https://site.example")

	tests := []struct {
		href string
		want string
	}{
		{"/dp/B000EXAMPLE/ref=sr_1_1", "https://site.example/dp/B000EXAMPLE/"},
		{"/Name/dp/B01/ref=sr_1_2?qid=1", "https://site.example/Name/dp/B01/"},
		{"/dp/B02?th=1", "https://site.example/dp/B02"},
		{"dp/B03/", "https://site.example/dp/B03/"},
		{"https://other.example/dp/B04/ref=x", "https://other.example/dp/B04/"},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ProductPath(tt.href))
		})
	}
}
