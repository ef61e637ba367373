// Package crawl implements the bounded, same-site breadth-first crawler that
// turns an organization's website into a set of cleaned pages.
package crawl

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/compass/internal/model"
)

const (
	// DefaultPageBudget is used when a caller passes a non-positive budget.
	DefaultPageBudget = 6
	// DefaultMinContentChars is the aggregate content size below which the
	// fallback fetcher is tried.
	DefaultMinContentChars = 500
	// MaxHeadings caps the headings kept per page.
	MaxHeadings = 30
)

// Document is a fetched and parsed page plus the raw links found on it.
type Document struct {
	Page model.CrawledPage
	// Links are absolute URLs or hrefs relative to BaseURL.
	Links []string
	// BaseURL is the final URL after redirects. Links resolve against it
	// only when it stays on the requested host.
	BaseURL string
}

// Fetcher retrieves and parses one URL. Any error drops the URL from the
// crawl.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Document, error)
	Name() string
}

// Crawler runs a breadth-first crawl restricted to the root's scheme and
// host. Page fetches within one crawl are sequential; concurrent Crawl calls
// share nothing but the fetchers, which are stateless.
type Crawler struct {
	primary         Fetcher
	fallback        Fetcher
	minContentChars int
	requestsPerSec  float64
	matcher         *PathMatcher
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithFallback sets the rendering-capable fetcher used when the primary
// strategy yields too little content.
func WithFallback(f Fetcher) Option {
	return func(c *Crawler) { c.fallback = f }
}

// WithMinContentChars sets the fallback threshold.
func WithMinContentChars(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.minContentChars = n
		}
	}
}

// WithRateLimit caps fetches per second within a single crawl. Zero
// disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Crawler) { c.requestsPerSec = rps }
}

// WithExcludePaths skips URLs whose path matches any glob pattern.
func WithExcludePaths(patterns []string) Option {
	return func(c *Crawler) { c.matcher = NewPathMatcher(patterns) }
}

// New creates a Crawler around the primary fetcher.
func New(primary Fetcher, opts ...Option) *Crawler {
	c := &Crawler{
		primary:         primary,
		minContentChars: DefaultMinContentChars,
		matcher:         NewPathMatcher(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl fetches up to budget pages reachable from rootURL. It returns an
// error only when rootURL cannot be parsed; fetch failures shrink the page
// set instead. A site whose root cannot be fetched comes back with zero
// pages and CrawlMethodFailed.
func (c *Crawler) Crawl(ctx context.Context, rootURL string, budget int) (*model.CrawledSite, error) {
	if budget <= 0 {
		budget = DefaultPageBudget
	}
	root, err := parseRoot(rootURL)
	if err != nil {
		return nil, eris.Wrapf(err, "crawl: invalid root url %q", rootURL)
	}

	log := zap.L().With(zap.String("domain", root.Host), zap.Int("budget", budget))

	site := &model.CrawledSite{
		Domain:      root.Host,
		MainURL:     root.String(),
		Pages:       c.bfs(ctx, root, budget, c.primary),
		CrawlMethod: model.CrawlMethodPrimary,
	}

	if c.fallback != nil && site.ContentLength() < c.minContentChars && ctx.Err() == nil {
		log.Info("crawl: primary content below threshold, trying fallback",
			zap.Int("pages", len(site.Pages)),
			zap.Int("content_chars", site.ContentLength()),
			zap.String("fallback", c.fallback.Name()),
		)
		alt := &model.CrawledSite{Pages: c.bfs(ctx, root, budget, c.fallback)}
		if alt.ContentLength() > site.ContentLength() {
			site.Pages = alt.Pages
			site.CrawlMethod = model.CrawlMethodFallback
		}
	}

	if len(site.Pages) == 0 {
		site.CrawlMethod = model.CrawlMethodFailed
	}

	log.Info("crawl: complete",
		zap.Int("pages", len(site.Pages)),
		zap.Int("content_chars", site.ContentLength()),
		zap.String("method", string(site.CrawlMethod)),
	)
	return site, nil
}

// bfs is the frontier loop. The visited set guarantees termination on
// cyclic link graphs.
func (c *Crawler) bfs(ctx context.Context, root *url.URL, budget int, f Fetcher) []model.CrawledPage {
	var limiter *rate.Limiter
	if c.requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.requestsPerSec), 1)
	}

	rootKey := root.String()
	frontier := []string{rootKey}
	queued := map[string]bool{rootKey: true}
	visited := make(map[string]bool)
	var pages []model.CrawledPage

	for len(frontier) > 0 && len(pages) < budget {
		if ctx.Err() != nil {
			break
		}
		next := frontier[0]
		frontier = frontier[1:]
		if visited[next] {
			continue
		}
		visited[next] = true

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}

		doc, err := f.Fetch(ctx, next)
		if err != nil {
			zap.L().Debug("crawl: fetch failed",
				zap.String("url", next),
				zap.String("fetcher", f.Name()),
				zap.Error(err),
			)
			continue
		}
		doc.Page.URL = next
		pages = append(pages, doc.Page)

		for _, link := range admitLinks(root, linkBase(next, doc.BaseURL), doc.Links) {
			if visited[link] || queued[link] || c.matcher.IsExcluded(link) {
				continue
			}
			queued[link] = true
			frontier = append(frontier, link)
		}
	}
	return pages
}

// linkBase picks the URL relative links resolve against. A redirect to
// another host (example.org to www.example.org) keeps the requested URL so
// discovered links stay on the crawl root's host.
func linkBase(requested, final string) string {
	if final == "" {
		return requested
	}
	req, err := url.Parse(requested)
	if err != nil {
		return final
	}
	fin, err := url.Parse(final)
	if err != nil || !strings.EqualFold(req.Host, fin.Host) {
		return requested
	}
	return final
}

// admitLinks resolves hrefs against pageURL and keeps those on the root's
// scheme and host, normalized and in document order.
func admitLinks(root *url.URL, pageURL string, hrefs []string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	prefix := root.Scheme + "://" + root.Host

	var out []string
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if skipHref(href) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		normalized := normalize(abs)
		if !strings.EqualFold(abs.Host, root.Host) || !strings.HasPrefix(normalized, prefix) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// parseRoot accepts bare domains and adds https.
func parseRoot(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, eris.New("empty url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, eris.New("missing host")
	}
	u.Host = strings.ToLower(u.Host)
	u, _ = url.Parse(normalize(u))
	return u, nil
}

// normalize strips the fragment, lowercases the host and defaults the path
// to "/". The result is the visited-set key.
func normalize(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}
