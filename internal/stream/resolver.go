package stream

import (
	"context"
	"fmt"

	"github.com/foliostream/gateway/internal/portfolio"
	"github.com/foliostream/gateway/internal/schema"
)

// PortfolioBindingResolver translates a "subscribe to portfolio X" request
// into the set of symbol subscriptions it implies. Ownership is enforced by
// the portfolio store; the resolver passes Forbidden and NotFound through
// untouched and never bypasses the check.
type PortfolioBindingResolver struct {
	store portfolio.Store
}

// NewPortfolioBindingResolver creates a resolver backed by the given store.
func NewPortfolioBindingResolver(store portfolio.Store) *PortfolioBindingResolver {
	return &PortfolioBindingResolver{store: store}
}

// Resolve returns the normalized asset symbols of the user-owned portfolio.
func (r *PortfolioBindingResolver) Resolve(ctx context.Context, userID, portfolioID string) ([]string, error) {
	symbols, err := r.store.AssetSymbols(ctx, userID, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("resolve portfolio %s: %w", portfolioID, err)
	}
	return schema.NormalizeSymbols(symbols), nil
}
