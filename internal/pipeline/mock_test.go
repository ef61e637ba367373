package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compass/internal/config"
	"github.com/sells-group/compass/internal/extract"
	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/store"
)

// --- Crawler Mock ---

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Crawl(ctx context.Context, rootURL string, budget int) (*model.CrawledSite, error) {
	args := m.Called(ctx, rootURL, budget)
	site, _ := args.Get(0).(*model.CrawledSite)
	return site, args.Error(1)
}

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractProfile(ctx context.Context, site *model.CrawledSite) extract.ProfileResult {
	args := m.Called(ctx, site)
	return args.Get(0).(extract.ProfileResult)
}

func (m *mockExtractor) ExtractMovements(ctx context.Context, site *model.CrawledSite) extract.MovementsResult {
	args := m.Called(ctx, site)
	return args.Get(0).(extract.MovementsResult)
}

// --- Selector Mock ---

type mockSelector struct {
	mock.Mock
}

func (m *mockSelector) Select(ctx context.Context, query string, grouped model.GroupedMatches) ([]model.Recommendation, error) {
	args := m.Called(ctx, query, grouped)
	recs, _ := args.Get(0).([]model.Recommendation)
	return recs, args.Error(1)
}

// fakeEmbedder returns fixed vectors per text. Texts without an entry get
// fallback, and a nil fallback means the provider failed for them.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeEmbedder) lookup(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	return f.fallback
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float32 {
	f.mu.Lock()
	f.calls = append(f.calls, []string{text})
	f.mu.Unlock()
	return f.lookup(text)
}

func (f *fakeEmbedder) EmbedAll(_ context.Context, texts []string) map[string][]float32 {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	out := make(map[string][]float32)
	for _, t := range texts {
		if v := f.lookup(t); v != nil {
			out[t] = v
		}
	}
	return out
}

type fixture struct {
	p         *Pipeline
	store     *store.SQLiteStore
	crawler   *mockCrawler
	extractor *mockExtractor
	embedder  *fakeEmbedder
	selector  *mockSelector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	cfg := &config.Config{}
	cfg.Crawl.MaxPages = 6
	cfg.Match.TopK = 10
	cfg.Queue.Workers = 2
	cfg.Queue.Retain = 10

	f := &fixture{
		store:     st,
		crawler:   &mockCrawler{},
		extractor: &mockExtractor{},
		embedder:  &fakeEmbedder{fallback: []float32{0.6, 0.8}},
		selector:  &mockSelector{},
	}
	f.p = New(cfg, st, f.crawler, f.extractor, f.embedder, f.selector)
	t.Cleanup(func() {
		f.p.Close()
		st.Close()
	})
	return f
}

func (f *fixture) seedOrg(t *testing.T, org *model.Organization) *model.Organization {
	t.Helper()
	require.NoError(t, f.store.CreateOrganization(context.Background(), org))
	return org
}

func threePageSite() *model.CrawledSite {
	return &model.CrawledSite{
		Domain:      "river.org",
		MainURL:     "https://river.org/",
		CrawlMethod: model.CrawlMethodPrimary,
		Pages: []model.CrawledPage{
			{URL: "https://river.org/", Title: "River Trust", Content: "We protect rivers across the region."},
			{URL: "https://river.org/about", Title: "About", Content: "Founded by volunteers in 1998."},
			{URL: "https://river.org/projects", Title: "Projects", Content: "Clean water and wetland restoration."},
		},
	}
}

func strPtr(s string) *string { return &s }
