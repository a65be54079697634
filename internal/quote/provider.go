// Package quote defines quote providers and their rate limiting.
package quote

import (
	"context"

	"github.com/foliostream/gateway/internal/schema"
)

// Provider fetches quotes for a batch of symbols. Results are reported per
// symbol: a failed symbol appears in the error list without suppressing the
// rest of the batch. Providers perform no internal throttling — callers pace
// requests through a Throttled wrapper.
type Provider interface {
	Fetch(ctx context.Context, symbols []string) ([]schema.Quote, []schema.SymbolError)
}
