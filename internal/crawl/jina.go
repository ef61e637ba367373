package crawl

import (
	"context"
	"maps"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compass/pkg/jina"
)

// JinaFetcher renders pages through the Jina Reader service, which executes
// client-side JavaScript before returning markdown.
type JinaFetcher struct {
	client   jina.Client
	maxChars int
}

// NewJinaFetcher wraps a Jina client.
func NewJinaFetcher(client jina.Client, maxChars int) *JinaFetcher {
	return &JinaFetcher{client: client, maxChars: maxChars}
}

// Name implements Fetcher.
func (f *JinaFetcher) Name() string { return "jina" }

// Fetch implements Fetcher.
func (f *JinaFetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	resp, err := f.client.Read(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 && resp.Code != 200 {
		return nil, eris.Errorf("crawl: jina returned code %d", resp.Code)
	}
	if resp.Data.Content == "" {
		return nil, eris.New("crawl: jina returned empty content")
	}

	page, links := pageFromMarkdown(resp.Data.Title, resp.Data.Description, resp.Data.Content, f.maxChars)
	links = append(links, slices.Sorted(maps.Values(resp.Data.Links))...)
	base := resp.Data.URL
	if base == "" {
		base = pageURL
	}
	return &Document{Page: page, Links: links, BaseURL: base}, nil
}
