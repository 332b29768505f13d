package oracle

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// RateLimited wraps an Oracle with a token-bucket limiter so bursts of
// evolution attempts cannot exceed the provider's request quota.
type RateLimited struct {
	inner   schemas.Oracle
	limiter *rate.Limiter
}

// NewRateLimited caps calls to the inner oracle at requestsPerMinute.
func NewRateLimited(inner schemas.Oracle, requestsPerMinute float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1),
	}
}

// Generate blocks until the limiter admits the call or ctx expires.
func (r *RateLimited) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Generate(ctx, req)
}

// Close closes the wrapped oracle.
func (r *RateLimited) Close() error {
	return r.inner.Close()
}
