package crawl

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; CompassBot/1.0)"
	maxBodyBytes     = 2 << 20
)

// HTTPFetcher fetches pages with a plain HTTP GET. Only 200 responses with
// an HTML content type count as successful.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxChars  int
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.client = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout and
// content cap.
func NewHTTPFetcher(timeout time.Duration, maxChars int, opts ...HTTPOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
		maxChars:  maxChars,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Fetcher.
func (f *HTTPFetcher) Name() string { return "http" }

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "crawl: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("crawl: status %d", resp.StatusCode)
	}
	if !isHTML(contentType) {
		return nil, eris.Errorf("crawl: non-html content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "crawl: read body")
	}
	if bt := DetectBlock(resp, body); bt != BlockNone {
		return nil, eris.Errorf("crawl: blocked (%s)", bt)
	}

	doc, err := ParseHTML(body, contentType, f.maxChars)
	if err != nil {
		return nil, err
	}
	doc.BaseURL = resp.Request.URL.String()
	return doc, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
