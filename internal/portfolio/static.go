package portfolio

import (
	"context"

	"github.com/foliostream/gateway/errs"
)

// Record describes one in-memory portfolio for the static store.
type Record struct {
	Owner   string
	Symbols []string
}

// StaticStore serves portfolios from an in-memory table. It backs local
// development and tests where no database is available.
type StaticStore struct {
	portfolios map[string]Record
}

// NewStaticStore builds a store over the provided table. A nil table seeds
// one development portfolio owned by dev-user.
func NewStaticStore(portfolios map[string]Record) *StaticStore {
	if portfolios == nil {
		portfolios = map[string]Record{
			"dev": {Owner: "dev-user", Symbols: []string{"AAPL", "GOOGL", "MSFT"}},
		}
	}
	return &StaticStore{portfolios: portfolios}
}

// AssetSymbols returns the holdings of a user-owned portfolio.
func (s *StaticStore) AssetSymbols(_ context.Context, userID, portfolioID string) ([]string, error) {
	record, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, errs.New("portfolio/static", errs.CodeNotFound,
			errs.WithMessage("portfolio not found: "+portfolioID))
	}
	if record.Owner != userID {
		return nil, errs.New("portfolio/static", errs.CodeForbidden,
			errs.WithMessage("portfolio not owned by caller"))
	}
	symbols := make([]string, len(record.Symbols))
	copy(symbols, record.Symbols)
	return symbols, nil
}
