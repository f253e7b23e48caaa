package auth

import (
	"context"
	"strings"
)

// Guard runs decode, resolve and authorize for one request. Every decision it
// makes uses the role and status read from the store during that call.
type Guard struct {
	tokens   TokenValidator
	resolver PrincipalResolver
	logger   Logger
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a Guard.
func NewGuard(tokens TokenValidator, resolver PrincipalResolver, opts ...GuardOption) *Guard {
	g := &Guard{
		tokens:   tokens,
		resolver: resolver,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Authenticate decodes the token and resolves the current principal.
func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, *Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, ErrInvalidToken
	}

	claims, err := g.tokens.Decode(token)
	if err != nil {
		return nil, nil, err
	}

	principal, err := g.resolver.Resolve(ctx, claims)
	if err != nil {
		return nil, claims, err
	}
	return principal, claims, nil
}

// Authorize applies rule to an already resolved principal. Suspended
// principals are denied regardless of the rule.
func (g *Guard) Authorize(principal *Principal, rule Rule) error {
	if principal != nil && principal.IsSuspended() {
		g.logger.Debug("authorization denied", "kind", string(principal.Kind), "id", principal.ID)
		return ErrForbidden
	}
	if err := Authorize(principal, rule); err != nil {
		if principal != nil {
			g.logger.Debug("authorization denied", "kind", string(principal.Kind), "id", principal.ID)
		}
		return err
	}
	return nil
}

// Check authenticates token and authorizes the result against rule.
func (g *Guard) Check(ctx context.Context, token string, rule Rule) (*Principal, error) {
	principal, _, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.Authorize(principal, rule); err != nil {
		return nil, err
	}
	return principal, nil
}

// Resolver returns the resolver used by the guard.
func (g *Guard) Resolver() PrincipalResolver {
	return g.resolver
}
