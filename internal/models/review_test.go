package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader(t *testing.T) {
	h := Header()
	require.Len(t, h, NumColumns)
	assert.Equal(t, "product_identifier", h[0])
	assert.Equal(t, "search_page_index", h[10])

	// callers get their own copy
	h[0] = "mutated"
	assert.Equal(t, "product_identifier", Header()[0])
}

func TestReviewRecordRow(t *testing.T) {
	r := ReviewRecord{
		ProductIdentifier: String("B000EXAMPLE"),
		Title:             String("Works"),
		ReviewPageIndex:   2,
		SearchPageIndex:   7,
	}

	row := r.Row()
	require.Len(t, row, NumColumns)
	assert.Equal(t, "B000EXAMPLE", row[0])
	assert.Equal(t, "", row[1])
	assert.Equal(t, "Works", row[2])
	assert.Equal(t, "2", row[9])
	assert.Equal(t, "7", row[10])
}

func TestRecordFromRow(t *testing.T) {
	tests := []struct {
		name    string
		row     []string
		wantErr bool
		check   func(t *testing.T, r ReviewRecord)
	}{
		{
			name: "empty cells become nil",
			row:  []string{"B01", "", "Title", "", "", "5.0 out of 5 stars", "", "", "", "1", "3"},
			check: func(t *testing.T, r ReviewRecord) {
				assert.Equal(t, "B01", *r.ProductIdentifier)
				assert.Nil(t, r.ProductName)
				assert.Nil(t, r.Date)
				assert.Equal(t, "5.0 out of 5 stars", *r.Rating)
				assert.Equal(t, 1, r.ReviewPageIndex)
				assert.Equal(t, 3, r.SearchPageIndex)
			},
		},
		{
			name:    "short row",
			row:     []string{"B01"},
			wantErr: true,
		},
		{
			name:    "non numeric page index",
			row:     []string{"", "", "", "", "", "", "", "", "", "one", "3"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := RecordFromRow(tt.row)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestDedupKeyIgnoresBody(t *testing.T) {
	a := ReviewRecord{ProductIdentifier: String("B01"), Title: String("t"), Date: String("d"), ReviewText: String("x"), ReviewPageIndex: 1, SearchPageIndex: 2}
	b := a
	b.ReviewText = String("different body")
	assert.Equal(t, a.DedupKey(), b.DedupKey())

	b.ReviewPageIndex = 2
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
}
