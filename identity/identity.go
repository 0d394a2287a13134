// Package identity is the bundled identity provider: accounts in the users
// table, HS256 session tokens, and a revocation list so signing out takes
// effect before a token expires.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when there is no valid session.
var ErrUnauthenticated = errors.New("unauthenticated")

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Provider answers who the current caller is.
type Provider interface {
	CurrentUser(ctx context.Context) (User, error)
	SignOut(ctx context.Context) error
}

type tokenKey struct{}

// WithToken attaches a bearer token to ctx for CurrentUser and SignOut.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the token attached by WithToken.
func TokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}
