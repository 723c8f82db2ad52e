package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSelectorsValid(t *testing.T) {
	require.NoError(t, DefaultSelectors().Validate())
}

func TestLoadSelectors(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		s, err := LoadSelectors("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSelectors(), s)
	})

	t.Run("missing file gives defaults", func(t *testing.T) {
		s, err := LoadSelectors(filepath.Join(t.TempDir(), "nope.json5"))
		require.NoError(t, err)
		assert.Equal(t, DefaultSelectors(), s)
	})

	t.Run("overrides only named entries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.json5")
		content := `{
			// markup moved the badge
			verified_badge: {css: "span.avp-badge-v2"},
			search_result: {css: "div[data-component-type='s-search-result']"},
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		s, err := LoadSelectors(path)
		require.NoError(t, err)

		def := DefaultSelectors()
		assert.Equal(t, "span.avp-badge-v2", s.VerifiedBadge.CSS)
		assert.Equal(t, "div[data-component-type='s-search-result']", s.SearchResult.CSS)
		assert.Equal(t, def.Title, s.Title)
		assert.Equal(t, def.ReviewEntry, s.ReviewEntry)
	})

	t.Run("explicit zero line keeps whole text", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.json5")
		require.NoError(t, os.WriteFile(path, []byte(`{title: {line: 0}}`), 0644))

		s, err := LoadSelectors(path)
		require.NoError(t, err)

		assert.Equal(t, DefaultSelectors().Title.CSS, s.Title.CSS)
		assert.Equal(t, 0, s.Title.Line)
	})

	t.Run("line without css keeps default css", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.json5")
		require.NoError(t, os.WriteFile(path, []byte(`{title: {line: 3}}`), 0644))

		s, err := LoadSelectors(path)
		require.NoError(t, err)

		assert.Equal(t, DefaultSelectors().Title.CSS, s.Title.CSS)
		assert.Equal(t, 3, s.Title.Line)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json5")
		require.NoError(t, os.WriteFile(path, []byte(`{title: `), 0644))

		_, err := LoadSelectors(path)
		assert.Error(t, err)
	})
}

func TestValidateRejectsEmptyCSS(t *testing.T) {
	s := DefaultSelectors()
	s.Rating.CSS = ""
	assert.ErrorContains(t, s.Validate(), "rating")
}
