package model

// CrawlMethod records which fetch strategy produced a crawled site.
type CrawlMethod string

const (
	CrawlMethodPrimary  CrawlMethod = "primary"
	CrawlMethodFallback CrawlMethod = "fallback"
	CrawlMethodFailed   CrawlMethod = "failed"
)

// CrawledPage represents a page fetched during crawling.
type CrawledPage struct {
	URL             string   `json:"url"`
	Title           string   `json:"title,omitempty"`
	MetaDescription string   `json:"meta_description,omitempty"`
	Headings        []string `json:"headings,omitempty"`
	Content         string   `json:"content"`
}

// CrawledSite is the outcome of crawling one organization's website.
// It lives only for the duration of a research run.
type CrawledSite struct {
	Domain      string        `json:"domain"`
	MainURL     string        `json:"main_url"`
	Pages       []CrawledPage `json:"pages"`
	CrawlMethod CrawlMethod   `json:"crawl_method"`
}

// ContentLength returns the aggregate character count of page content.
func (s *CrawledSite) ContentLength() int {
	n := 0
	for _, p := range s.Pages {
		n += len([]rune(p.Content))
	}
	return n
}

// CombinedContent joins page content with blank lines and truncates the
// result to limit characters. A non-positive limit disables truncation.
func (s *CrawledSite) CombinedContent(limit int) string {
	var parts []rune
	for _, p := range s.Pages {
		if p.Content == "" {
			continue
		}
		if len(parts) > 0 {
			parts = append(parts, '\n', '\n')
		}
		parts = append(parts, []rune(p.Content)...)
		if limit > 0 && len(parts) >= limit {
			return string(parts[:limit])
		}
	}
	return string(parts)
}
