package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compass/internal/model"
)

type mockFetcher struct {
	mock.Mock
	name string
}

func (m *mockFetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	args := m.Called(ctx, pageURL)
	doc, _ := args.Get(0).(*Document)
	return doc, args.Error(1)
}

func (m *mockFetcher) Name() string { return m.name }

func htmlPage(title, body string) string {
	return fmt.Sprintf(`<!doctype html><html><head><title>%s</title>
<meta name="description" content="%s description"></head>
<body>%s</body></html>`, title, title, body)
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, htmlPage("Home", `
<h1>River Trust</h1>
<p>We protect rivers.</p>
<a href="/about">About</a>
<a href="/programs#top">Programs</a>
<a href="mailto:info@river.org">Mail</a>
<a href="tel:+15551234">Call</a>
<a href="https://external.org/page">Partner</a>
<a href="#main">Skip</a>
<a href="/report.pdf">Report</a>
<a href="/missing">Broken</a>
<a href="/data.json">Data</a>
<a href="javascript:void(0)">JS</a>
<a href="about">Relative about</a>`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage("About", `<h2>Our story</h2><p>Founded in 1990.</p><a href="/">Home</a><a href="/programs">Programs</a>`))
	})
	mux.HandleFunc("/programs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage("Programs", `<h2>Clean Water</h2><a href="/about">About</a><a href="/programs/water">Water</a>`))
	})
	mux.HandleFunc("/programs/water", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage("Water", `<h3>Wells</h3><p>Wells for villages.</p>`))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/report.pdf", func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("excluded path should not be fetched")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func pageURLs(site *model.CrawledSite) []string {
	out := make([]string, len(site.Pages))
	for i, p := range site.Pages {
		out[i] = p.URL
	}
	return out
}

func TestCrawl_BreadthFirstSameSite(t *testing.T) {
	ts := newSiteServer(t)
	c := New(NewHTTPFetcher(5*time.Second, 8000))

	site, err := c.Crawl(context.Background(), ts.URL, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{
		ts.URL + "/",
		ts.URL + "/about",
		ts.URL + "/programs",
		ts.URL + "/programs/water",
	}, pageURLs(site))
	assert.Equal(t, model.CrawlMethodPrimary, site.CrawlMethod)
	assert.Equal(t, ts.URL+"/", site.MainURL)

	for _, p := range site.Pages {
		assert.True(t, strings.HasPrefix(p.URL, ts.URL+"/"), p.URL)
	}

	home := site.Pages[0]
	assert.Equal(t, "Home", home.Title)
	assert.Equal(t, "Home description", home.MetaDescription)
	assert.Equal(t, []string{"River Trust"}, home.Headings)
	assert.Contains(t, home.Content, "We protect rivers.")
}

func TestCrawl_RespectsBudget(t *testing.T) {
	ts := newSiteServer(t)
	c := New(NewHTTPFetcher(5*time.Second, 8000))

	site, err := c.Crawl(context.Background(), ts.URL, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{ts.URL + "/", ts.URL + "/about"}, pageURLs(site))
}

func TestCrawl_DefaultBudget(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		// Every page links to ten new pages.
		var links strings.Builder
		for i := 0; i < 10; i++ {
			fmt.Fprintf(&links, `<a href="%s/p%d">p</a>`, strings.TrimSuffix(r.URL.Path, "/"), i)
		}
		fmt.Fprint(w, htmlPage("Page", "<p>content</p>"+links.String()))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	site, err := New(NewHTTPFetcher(5*time.Second, 8000)).Crawl(context.Background(), ts.URL, 0)
	require.NoError(t, err)
	assert.Len(t, site.Pages, DefaultPageBudget)
	assert.Equal(t, int32(DefaultPageBudget), hits.Load())
}

func TestCrawl_TerminatesOnCycles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage("A", `<a href="/b">b</a><a href="/">self</a><a href="/#x">self frag</a>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, htmlPage("B", `<a href="/">a</a><a href="/b">self</a>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	site, err := New(NewHTTPFetcher(5*time.Second, 8000)).Crawl(context.Background(), ts.URL, 50)
	require.NoError(t, err)
	assert.Len(t, site.Pages, 2)
}

func TestCrawl_RootFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	site, err := New(NewHTTPFetcher(5*time.Second, 8000)).Crawl(context.Background(), ts.URL, 6)
	require.NoError(t, err)
	assert.Empty(t, site.Pages)
	assert.Equal(t, model.CrawlMethodFailed, site.CrawlMethod)
}

func TestCrawl_UnreachableRoot(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := ts.URL
	ts.Close()

	site, err := New(NewHTTPFetcher(time.Second, 8000)).Crawl(context.Background(), addr, 6)
	require.NoError(t, err)
	assert.Empty(t, site.Pages)
	assert.Equal(t, model.CrawlMethodFailed, site.CrawlMethod)
}

func TestCrawl_InvalidRoot(t *testing.T) {
	c := New(&mockFetcher{name: "mock"})
	_, err := c.Crawl(context.Background(), "", 6)
	assert.Error(t, err)

	_, err = c.Crawl(context.Background(), "https://", 6)
	assert.Error(t, err)
}

func TestCrawl_FallbackWhenContentThin(t *testing.T) {
	primary := &mockFetcher{name: "http"}
	fallback := &mockFetcher{name: "jina"}

	primary.On("Fetch", mock.Anything, "https://river.org/").
		Return(&Document{Page: model.CrawledPage{Content: "Loading..."}}, nil)
	fallback.On("Fetch", mock.Anything, "https://river.org/").
		Return(&Document{
			Page:  model.CrawledPage{Title: "River Trust", Content: strings.Repeat("rivers ", 100)},
			Links: []string{"/about", "https://elsewhere.org/"},
		}, nil)
	fallback.On("Fetch", mock.Anything, "https://river.org/about").
		Return(&Document{Page: model.CrawledPage{Content: "about us"}}, nil)

	c := New(primary, WithFallback(fallback), WithMinContentChars(500))
	site, err := c.Crawl(context.Background(), "river.org", 6)
	require.NoError(t, err)

	assert.Equal(t, model.CrawlMethodFallback, site.CrawlMethod)
	assert.Equal(t, "river.org", site.Domain)
	assert.Equal(t, []string{"https://river.org/", "https://river.org/about"}, pageURLs(site))
	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}

func TestCrawl_FallbackNotBetterKeepsPrimary(t *testing.T) {
	primary := &mockFetcher{name: "http"}
	fallback := &mockFetcher{name: "jina"}

	primary.On("Fetch", mock.Anything, "https://river.org/").
		Return(&Document{Page: model.CrawledPage{Content: "short but real"}}, nil)
	fallback.On("Fetch", mock.Anything, "https://river.org/").
		Return(nil, assert.AnError)

	site, err := New(primary, WithFallback(fallback)).Crawl(context.Background(), "https://river.org", 6)
	require.NoError(t, err)
	assert.Equal(t, model.CrawlMethodPrimary, site.CrawlMethod)
	require.Len(t, site.Pages, 1)
	assert.Equal(t, "short but real", site.Pages[0].Content)
}

func TestCrawl_NoFallbackWhenContentSufficient(t *testing.T) {
	primary := &mockFetcher{name: "http"}
	fallback := &mockFetcher{name: "jina"}

	primary.On("Fetch", mock.Anything, "https://river.org/").
		Return(&Document{Page: model.CrawledPage{Content: strings.Repeat("x", 600)}}, nil)

	site, err := New(primary, WithFallback(fallback)).Crawl(context.Background(), "https://river.org", 6)
	require.NoError(t, err)
	assert.Equal(t, model.CrawlMethodPrimary, site.CrawlMethod)
	fallback.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestCrawl_CancelledContextStops(t *testing.T) {
	primary := &mockFetcher{name: "http"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	site, err := New(primary).Crawl(ctx, "https://river.org", 6)
	require.NoError(t, err)
	assert.Empty(t, site.Pages)
	primary.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestCrawl_RootRedirectsToOtherHost(t *testing.T) {
	var port string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Host, "127.0.0.1") && r.URL.Path == "/" {
			http.Redirect(w, r, "http://localhost:"+port+"/", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, htmlPage("Home", `<p>We protect rivers.</p><a href="/a">A</a><a href="/b">B</a>`))
		case "/a":
			fmt.Fprint(w, htmlPage("A", `<p>Wetlands.</p>`))
		case "/b":
			fmt.Fprint(w, htmlPage("B", `<p>Wells.</p>`))
		default:
			http.NotFound(w, r)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	port = ts.URL[strings.LastIndex(ts.URL, ":")+1:]

	site, err := New(NewHTTPFetcher(5*time.Second, 8000)).Crawl(context.Background(), ts.URL, 6)
	require.NoError(t, err)
	require.Len(t, site.Pages, 3)
	assert.Equal(t, ts.URL+"/a", site.Pages[1].URL)
	assert.Equal(t, ts.URL+"/b", site.Pages[2].URL)
}

func TestLinkBase(t *testing.T) {
	assert.Equal(t, "https://river.org/", linkBase("https://river.org/", ""))
	assert.Equal(t, "https://river.org/new/", linkBase("https://river.org/old", "https://river.org/new/"))
	assert.Equal(t, "https://river.org/", linkBase("https://river.org/", "https://www.river.org/"))
}

func TestAdmitLinks(t *testing.T) {
	root, err := parseRoot("https://river.org")
	require.NoError(t, err)

	got := admitLinks(root, "https://river.org/programs/", []string{
		"water",
		"../about#team",
		"/contact",
		"https://RIVER.org/donate",
		"http://river.org/insecure",
		"https://sub.river.org/",
		"https://other.org/",
		"mailto:a@b.c",
		"TEL:123",
		"#top",
		"",
		"ftp://river.org/file",
	})
	assert.Equal(t, []string{
		"https://river.org/programs/water",
		"https://river.org/about",
		"https://river.org/contact",
		"https://river.org/donate",
	}, got)
}

func TestParseRoot(t *testing.T) {
	u, err := parseRoot("River.org")
	require.NoError(t, err)
	assert.Equal(t, "https://river.org/", u.String())

	u, err = parseRoot("http://river.org/home#x")
	require.NoError(t, err)
	assert.Equal(t, "http://river.org/home", u.String())
}
