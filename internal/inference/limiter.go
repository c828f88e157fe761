package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limited throttles calls to the wrapped provider.
type Limited struct {
	next     Provider
	limiter  *rate.Limiter
	requests atomic.Int64
	blocked  atomic.Int64
}

// NewLimited allows perSecond calls with the given burst. A non-positive rate
// disables throttling.
func NewLimited(next Provider, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Infer(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	l.requests.Add(1)
	if err := l.limiter.Wait(ctx); err != nil {
		l.blocked.Add(1)
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrProviderUnavailable, err)
	}
	return l.next.Infer(ctx, prompt, schema)
}

func (l *Limited) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"requests": l.requests.Load(),
		"blocked":  l.blocked.Load(),
		"limit":    float64(l.limiter.Limit()),
		"burst":    l.limiter.Burst(),
	}
}
