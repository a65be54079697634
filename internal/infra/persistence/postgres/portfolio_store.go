// Package postgres provides pgx-backed stores for the gateway.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foliostream/gateway/errs"
)

// PortfolioStore resolves portfolios and their holdings from PostgreSQL.
// Ownership is checked here: the stream layer relies on this store refusing
// to leak another user's holdings.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore constructs a PortfolioStore backed by the provided pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const (
	portfolioOwnerSQL  = `SELECT owner_id FROM portfolios WHERE id = $1;`
	portfolioAssetsSQL = `SELECT symbol FROM portfolio_assets WHERE portfolio_id = $1 ORDER BY symbol;`
)

// AssetSymbols returns the asset symbols held in the user-owned portfolio.
// A missing portfolio yields CodeNotFound; a portfolio owned by another user
// yields CodeForbidden.
func (s *PortfolioStore) AssetSymbols(ctx context.Context, userID, portfolioID string) ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("portfolio store: nil pool")
	}
	trimmedUser := strings.TrimSpace(userID)
	trimmedPortfolio := strings.TrimSpace(portfolioID)
	if trimmedUser == "" || trimmedPortfolio == "" {
		return nil, errs.New("persistence/portfolio", errs.CodeInvalid,
			errs.WithMessage("user id and portfolio id required"))
	}

	var ownerID string
	if err := s.pool.QueryRow(ctx, portfolioOwnerSQL, trimmedPortfolio).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New("persistence/portfolio", errs.CodeNotFound,
				errs.WithMessage("portfolio not found: "+trimmedPortfolio))
		}
		return nil, fmt.Errorf("lookup portfolio owner: %w", err)
	}
	if ownerID != trimmedUser {
		return nil, errs.New("persistence/portfolio", errs.CodeForbidden,
			errs.WithMessage("portfolio not owned by caller"))
	}

	rows, err := s.pool.Query(ctx, portfolioAssetsSQL, trimmedPortfolio)
	if err != nil {
		return nil, fmt.Errorf("select portfolio assets: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("scan portfolio asset: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate portfolio assets: %w", err)
	}
	return symbols, nil
}
