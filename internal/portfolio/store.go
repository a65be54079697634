// Package portfolio defines the read surface the stream engine needs from
// portfolio persistence.
package portfolio

import "context"

// Store resolves a user-owned portfolio to its asset symbols.
//
// Implementations encode the ownership check themselves: a portfolio owned by
// another user yields errs.CodeForbidden, a missing portfolio
// errs.CodeNotFound. Callers must not bypass this.
type Store interface {
	AssetSymbols(ctx context.Context, userID, portfolioID string) ([]string, error)
}
