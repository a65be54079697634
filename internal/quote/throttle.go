package quote

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/foliostream/gateway/internal/schema"
)

// Throttled paces calls to an underlying provider with a shared token bucket.
// The periodic fetch loop and one-shot live-price requests share one instance
// so the combined request rate stays inside the provider quota.
type Throttled struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewThrottled wraps the provider with a limiter admitting requestsPerMinute
// calls, bursting up to burst.
func NewThrottled(provider Provider, requestsPerMinute float64, burst int) *Throttled {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst),
	}
}

// Fetch reserves one token per symbol before delegating to the provider. A
// context expiry while waiting fails the whole batch with per-symbol errors
// so the caller's isolation semantics hold.
func (t *Throttled) Fetch(ctx context.Context, symbols []string) ([]schema.Quote, []schema.SymbolError) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if err := t.limiter.WaitN(ctx, len(symbols)); err != nil {
		failures := make([]schema.SymbolError, 0, len(symbols))
		for _, sym := range symbols {
			failures = append(failures, schema.SymbolError{Symbol: sym, Err: err})
		}
		return nil, failures
	}
	return t.provider.Fetch(ctx, symbols)
}
