package auth

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the Principal in the given context
func WithContext(r context.Context, principal *Principal) context.Context {
	return context.WithValue(r, principalCtxKey, principal)
}

// FromContext finds the principal from the context.
func FromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the Claims in the given context
func WithClaimsContext(r context.Context, claims *Claims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the Claims from the standard context
func GetClaims(ctx context.Context) (*Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*Claims)
	return raw, ok && raw != nil
}

// Can applies rule to the principal stored in ctx.
func Can(ctx context.Context, rule Rule) bool {
	principal, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return Authorize(principal, rule) == nil
}
