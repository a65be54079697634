package auth

import (
	"context"
	"strings"

	"github.com/foliostream/gateway/errs"
)

// StaticVerifier resolves tokens from an in-memory table. It backs local
// development and tests where no session database is available.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier builds a verifier over a token-to-user table. A nil
// table seeds the development credential dev-token/dev-user.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	if tokens == nil {
		tokens = map[string]string{"dev-token": "dev-user"}
	}
	return &StaticVerifier{tokens: tokens}
}

// Verify resolves the token against the static table.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, errs.New("auth/static", errs.CodeAuthFailure,
			errs.WithMessage("credential required"))
	}
	userID, ok := v.tokens[trimmed]
	if !ok {
		return Identity{}, errs.New("auth/static", errs.CodeAuthFailure,
			errs.WithMessage("unknown credential"))
	}
	return Identity{UserID: userID}, nil
}
