// Package auth verifies identity-provider tokens and guards request entry.
package auth

import (
	"context"
)

// LoginPath is where unauthenticated callers are sent.
const LoginPath = "/login"

// User is the authenticated caller, passed explicitly to the engine and aggregator.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed  bool
	Redirect string
}

// Authorize allows a present user and denies with a redirect to the login
// page otherwise.
func Authorize(u *User) Decision {
	if u == nil || u.ID == "" {
		return Decision{Redirect: LoginPath}
	}
	return Decision{Allowed: true}
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *User {
	u, ok := ctx.Value(contextKey{}).(User)
	if !ok {
		return nil
	}
	return &u
}
