// Package embed wraps the embedding provider. Failures never reach the
// caller: a nil vector means "skip this item".
package embed

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compass/internal/match"
	"github.com/sells-group/compass/internal/resilience"
)

const defaultConcurrency = 4

// Provider turns texts into vectors, one per input in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder calls the provider under a resilience policy and checks the
// returned dimensionality.
type Embedder struct {
	provider    Provider
	dims        int
	policy      *resilience.Policy
	concurrency int
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithPolicy sets the retry and circuit breaker policy for provider calls.
func WithPolicy(p *resilience.Policy) Option {
	return func(e *Embedder) { e.policy = p }
}

// WithConcurrency bounds concurrent provider calls in EmbedAll.
func WithConcurrency(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Embedder expecting vectors of dims dimensions.
func New(provider Provider, dims int, opts ...Option) *Embedder {
	e := &Embedder{
		provider:    provider,
		dims:        dims,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns the vector for text, or nil when text is blank, the
// provider fails or times out, the circuit is open, or the vector has the
// wrong shape.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	vecs, err := e.call(ctx, []string{text})
	if err != nil {
		zap.L().Warn("embed: provider call failed", zap.Int("chars", len(text)), zap.Error(err))
		return nil
	}
	return e.check(vecs[0])
}

// EmbedAll embeds each distinct non-blank text once. The result maps text
// to vector; texts that failed are absent. All texts go to the provider in
// one request first. A batch rejected for its content (a non-transient
// error) is split into one request per text so one bad input does not sink
// the rest; a batch that failed because the provider is unavailable is not
// re-sent.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string) map[string][]float32 {
	var unique []string
	seen := make(map[string]bool)
	for _, t := range texts {
		if strings.TrimSpace(t) == "" || seen[t] {
			continue
		}
		seen[t] = true
		unique = append(unique, t)
	}
	out := make(map[string][]float32, len(unique))
	if len(unique) == 0 {
		return out
	}

	vecs, err := e.call(ctx, unique)
	if err == nil {
		for i, t := range unique {
			if v := e.check(vecs[i]); v != nil {
				out[t] = v
			}
		}
		return out
	}
	if len(unique) == 1 || resilience.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) {
		zap.L().Warn("embed: provider call failed", zap.Int("texts", len(unique)), zap.Error(err))
		return out
	}
	zap.L().Warn("embed: batch call failed, embedding individually",
		zap.Int("texts", len(unique)),
		zap.Error(err),
	)

	results := make([][]float32, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, t := range unique {
		g.Go(func() error {
			results[i] = e.Embed(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range unique {
		if results[i] != nil {
			out[t] = results[i]
		}
	}
	return out
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := resilience.Call(ctx, e.policy, func(ctx context.Context) ([][]float32, error) {
		return e.provider.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, eris.Errorf("embed: provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *Embedder) check(vec []float32) []float32 {
	if !match.Valid(vec, e.dims) {
		zap.L().Warn("embed: discarding vector with unexpected shape",
			zap.Int("got_dims", len(vec)),
			zap.Int("want_dims", e.dims),
		)
		return nil
	}
	return vec
}
