// Package auth defines credential verification for connection admission.
package auth

import "context"

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID string
}

// TokenVerifier validates a presented credential and yields a user identity.
// A failure rejects the connection before any registry state is created.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
