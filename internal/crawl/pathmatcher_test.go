package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_Defaults(t *testing.T) {
	m := NewPathMatcher(nil)

	tests := []struct {
		url      string
		excluded bool
	}{
		{"https://river.org/report.pdf", true},
		{"https://river.org/docs/2023/Annual-Report.PDF", true},
		{"https://river.org/wp-admin/edit.php", true},
		{"https://river.org/wp-admin/a/b", true},
		{"https://river.org/wp-admin", true},
		{"https://river.org/cart/", true},
		{"https://river.org/login", true},
		{"https://river.org/login.php", true},
		{"https://river.org/about/login", false},
		{"https://river.org/", false},
		{"https://river.org/programs/water", false},
		{"https://river.org/pdf-guide", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.excluded, m.IsExcluded(tt.url))
		})
	}
}

func TestPathMatcher_CustomPatterns(t *testing.T) {
	m := NewPathMatcher([]string{"/Shop/*", "/events/20??"})

	assert.True(t, m.IsExcluded("https://river.org/shop/item/1"))
	assert.True(t, m.IsExcluded("https://river.org/events/2019"))
	assert.False(t, m.IsExcluded("https://river.org/events/"))
	// Custom patterns replace the defaults.
	assert.False(t, m.IsExcluded("https://river.org/report.pdf"))
}

func TestPathMatcher_Nil(t *testing.T) {
	var m *PathMatcher
	assert.False(t, m.IsExcluded("https://river.org/report.pdf"))
}

func TestPathMatcher_UnparseableURL(t *testing.T) {
	assert.True(t, NewPathMatcher(nil).IsExcluded("http://[::1"))
}
