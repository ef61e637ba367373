package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy bundles the retry, circuit breaker and per-attempt timeout applied
// to one external provider.
type Policy struct {
	Name    string
	Retry   RetryConfig
	Breaker *Breaker
	Timeout time.Duration
}

// NewPolicy builds a policy for the named provider. Zero values select the
// package defaults.
func NewPolicy(name string, maxAttempts int, timeout time.Duration, failThreshold int, resetTimeout time.Duration) *Policy {
	retry := DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	retry.OnRetry = RetryLogger(name, "call")

	return &Policy{
		Name:  name,
		Retry: retry,
		Breaker: NewBreaker(failThreshold, resetTimeout, func(from, to CircuitState) {
			zap.L().Warn("circuit state change",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
		Timeout: timeout,
	}
}

// Call runs fn under p. Each attempt gets its own timeout and passes through
// the breaker. A nil policy runs fn once.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	return DoVal(ctx, p.Retry, func(ctx context.Context) (T, error) {
		var zero T
		if p.Breaker != nil {
			if err := p.Breaker.Allow(); err != nil {
				return zero, err
			}
		}

		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		val, err := fn(attemptCtx)
		if p.Breaker != nil {
			p.Breaker.Record(err)
		}
		return val, err
	})
}
