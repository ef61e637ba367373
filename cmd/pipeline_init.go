package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/crawl"
	"github.com/sells-group/compass/internal/embed"
	"github.com/sells-group/compass/internal/extract"
	"github.com/sells-group/compass/internal/pipeline"
	"github.com/sells-group/compass/internal/resilience"
	"github.com/sells-group/compass/internal/selector"
	"github.com/sells-group/compass/internal/store"
	anthropicpkg "github.com/sells-group/compass/pkg/anthropic"
	"github.com/sells-group/compass/pkg/firecrawl"
	"github.com/sells-group/compass/pkg/jina"
	"github.com/sells-group/compass/pkg/ollama"
	"github.com/sells-group/compass/pkg/openai"
)

// pipelineEnv holds the store and the pipeline needed by the research,
// match and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Pipeline != nil {
		pe.Pipeline.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, opens the store and builds
// the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	p, err := buildPipeline(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &pipelineEnv{Store: st, Pipeline: p}, nil
}

// buildPipeline wires the crawler, extractor, embedder and selector from
// cfg around st.
func buildPipeline(st store.Store) (*pipeline.Pipeline, error) {
	llmPolicy := resilience.NewPolicy("anthropic",
		cfg.Anthropic.MaxAttempts,
		time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second,
		cfg.Anthropic.FailThreshold,
		time.Duration(cfg.Anthropic.ResetTimeoutSecs)*time.Second,
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))

	provider, err := newEmbeddingProvider()
	if err != nil {
		return nil, err
	}
	embedPolicy := resilience.NewPolicy("embedding",
		cfg.Embedding.MaxAttempts,
		time.Duration(cfg.Embedding.TimeoutSecs)*time.Second,
		cfg.Anthropic.FailThreshold,
		time.Duration(cfg.Anthropic.ResetTimeoutSecs)*time.Second,
	)

	return pipeline.New(cfg, st,
		newCrawler(),
		extract.New(anthropicClient, cfg.Anthropic.ExtractModel, cfg.Anthropic.MaxTokens, llmPolicy),
		embed.New(provider, cfg.Embedding.Dimensions,
			embed.WithPolicy(embedPolicy),
			embed.WithConcurrency(cfg.Embedding.Concurrency),
		),
		selector.New(anthropicClient, cfg.Anthropic.SelectModel, cfg.Anthropic.MaxTokens, cfg.Match.MaxRecommendations, llmPolicy),
	), nil
}

// newCrawler builds the HTTP crawler with the configured rendering
// fallback.
func newCrawler() *crawl.Crawler {
	timeout := time.Duration(cfg.Crawl.TimeoutSecs) * time.Second
	primary := crawl.NewHTTPFetcher(timeout, cfg.Crawl.MaxContentChars, crawl.WithUserAgent(cfg.Crawl.UserAgent))

	opts := []crawl.Option{
		crawl.WithMinContentChars(cfg.Crawl.MinContentChars),
		crawl.WithRateLimit(cfg.Crawl.RequestsPerSec),
		crawl.WithExcludePaths(cfg.Crawl.ExcludePaths),
	}

	switch cfg.Crawl.Fallback {
	case "jina":
		client := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
		opts = append(opts, crawl.WithFallback(crawl.NewJinaFetcher(client, cfg.Crawl.MaxContentChars)))
	case "firecrawl":
		client := firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		opts = append(opts, crawl.WithFallback(crawl.NewFirecrawlFetcher(client, cfg.Crawl.MaxContentChars, int(timeout.Milliseconds()))))
	default:
		zap.L().Debug("crawl fallback disabled")
	}

	return crawl.New(primary, opts...)
}

func newEmbeddingProvider() (embed.Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return openai.NewClient(cfg.Embedding.Key, cfg.Embedding.Model,
			openai.WithBaseURL(cfg.Embedding.BaseURL),
			openai.WithDimensions(cfg.Embedding.Dimensions),
		), nil
	case "ollama":
		return ollama.NewClient(cfg.Embedding.Model, ollama.WithBaseURL(cfg.Embedding.BaseURL)), nil
	default:
		return nil, eris.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}
