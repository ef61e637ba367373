package crawl

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compass/pkg/firecrawl"
)

// FirecrawlFetcher renders pages through the Firecrawl scrape endpoint.
type FirecrawlFetcher struct {
	client    firecrawl.Client
	maxChars  int
	timeoutMs int
}

// NewFirecrawlFetcher wraps a Firecrawl client.
func NewFirecrawlFetcher(client firecrawl.Client, maxChars, timeoutMs int) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client, maxChars: maxChars, timeoutMs: timeoutMs}
}

// Name implements Fetcher.
func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

// Fetch implements Fetcher.
func (f *FirecrawlFetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             pageURL,
		Formats:         []string{"markdown", "links"},
		OnlyMainContent: false,
		Timeout:         f.timeoutMs,
	})
	if err != nil {
		return nil, err
	}
	meta := resp.Data.Metadata
	if !resp.Success || (meta.StatusCode != 0 && meta.StatusCode != 200) {
		return nil, eris.Errorf("crawl: firecrawl status %d", meta.StatusCode)
	}
	if resp.Data.Markdown == "" {
		return nil, eris.New("crawl: firecrawl returned empty content")
	}

	page, links := pageFromMarkdown(meta.Title, meta.Description, resp.Data.Markdown, f.maxChars)
	links = append(links, resp.Data.Links...)

	base := meta.URL
	if base == "" {
		base = pageURL
	}
	return &Document{Page: page, Links: links, BaseURL: base}, nil
}
