package crawl

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip assets and account pages that never carry
// mission content.
var defaultExcludePatterns = []string{
	"/*.pdf",
	"/wp-admin/*",
	"/cart/*",
	"/login*",
}

// PathMatcher filters URLs by glob-style path patterns. A pattern ending in
// "/*" also matches deeper paths, so "/shop/*" matches "/shop/a/b".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher, using the defaults when patterns is
// empty.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// IsExcluded reports whether rawURL's path matches any pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	// "/*.pdf" should match PDFs at any depth.
	if strings.HasPrefix(pattern, "/*.") {
		if ok, _ := path.Match(pattern[1:], path.Base(urlPath)); ok {
			return true
		}
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
