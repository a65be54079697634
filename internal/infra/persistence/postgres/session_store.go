package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foliostream/gateway/errs"
	"github.com/foliostream/gateway/internal/auth"
)

// SessionVerifier validates session tokens against PostgreSQL. It implements
// auth.TokenVerifier for connection admission.
type SessionVerifier struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSessionVerifier constructs a SessionVerifier backed by the provided pool.
func NewSessionVerifier(pool *pgxpool.Pool) *SessionVerifier {
	return &SessionVerifier{pool: pool, now: time.Now}
}

const sessionLookupSQL = `SELECT user_id, expires_at FROM sessions WHERE token = $1;`

// Verify resolves the token to a user identity. Missing or expired tokens
// yield CodeAuthFailure.
func (v *SessionVerifier) Verify(ctx context.Context, token string) (auth.Identity, error) {
	if v.pool == nil {
		return auth.Identity{}, fmt.Errorf("session verifier: nil pool")
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return auth.Identity{}, errs.New("persistence/session", errs.CodeAuthFailure,
			errs.WithMessage("credential required"))
	}

	var userID string
	var expiresAt time.Time
	if err := v.pool.QueryRow(ctx, sessionLookupSQL, trimmed).Scan(&userID, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Identity{}, errs.New("persistence/session", errs.CodeAuthFailure,
				errs.WithMessage("unknown credential"))
		}
		return auth.Identity{}, fmt.Errorf("lookup session: %w", err)
	}
	if v.now().After(expiresAt) {
		return auth.Identity{}, errs.New("persistence/session", errs.CodeAuthFailure,
			errs.WithMessage("credential expired"))
	}
	return auth.Identity{UserID: userID}, nil
}
