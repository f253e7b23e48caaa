package auth

import (
	"context"
	"errors"
)

// PrincipalResolver maps decoded claims to the current stored principal.
type PrincipalResolver interface {
	Resolve(ctx context.Context, claims *Claims) (*Principal, error)
	ResolveTarget(ctx context.Context, kind PrincipalKind, id int64) (*Principal, error)
}

// Resolver loads principals through a PrincipalRepository. The role carried
// by a token is never used: role and status always come from the record.
type Resolver struct {
	fallback PrincipalRepository
	byKind   map[PrincipalKind]PrincipalRepository
	logger   Logger
}

var _ PrincipalResolver = (*Resolver)(nil)

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithKindRepository routes lookups for one kind to a dedicated repository.
func WithKindRepository(kind PrincipalKind, repo PrincipalRepository) ResolverOption {
	return func(r *Resolver) {
		if repo != nil {
			r.byKind[kind] = repo
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver returns a Resolver that uses repo for every kind unless
// overridden with WithKindRepository.
func NewResolver(repo PrincipalRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fallback: repo,
		byKind:   map[PrincipalKind]PrincipalRepository{},
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the principal identified by the claims' (kind, sub).
func (r *Resolver) Resolve(ctx context.Context, claims *Claims) (*Principal, error) {
	if claims == nil || !claims.Kind.IsValid() {
		return nil, ErrInvalidToken
	}

	principal, err := r.load(ctx, claims.Kind, claims.Sub)
	if err != nil {
		return nil, err
	}

	if claims.Role != "" && claims.Role != principal.Role {
		r.logger.Debug("token role differs from stored role",
			"kind", string(principal.Kind), "id", principal.ID)
	}
	return principal, nil
}

// ResolveTarget loads the principal a request acts upon. Its not found error
// is marked as a target so it maps to 404 rather than 401.
func (r *Resolver) ResolveTarget(ctx context.Context, kind PrincipalKind, id int64) (*Principal, error) {
	if !kind.IsValid() {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	principal, err := r.load(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, targetNotFound(kind, id)
		}
		return nil, err
	}
	return principal, nil
}

func (r *Resolver) load(ctx context.Context, kind PrincipalKind, id int64) (*Principal, error) {
	repo := r.repository(kind)
	if repo == nil {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(kind)})
	}

	record, err := repo.FindByKindAndID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, withDetail(ErrPrincipalNotFound, nil, map[string]any{"kind": string(kind), "id": id})
	}

	record.EnsureStatus()
	if record.Status == StatusDeleted {
		return nil, withDetail(ErrPrincipalNotFound, nil, map[string]any{"kind": string(kind), "id": id})
	}

	principal := record.Principal(kind)
	principal.Role = r.effectiveRole(kind, record.Role, id)
	if kind == KindAdmin {
		principal.Status = StatusActive
	}
	return principal, nil
}

// effectiveRole returns the stored role, or the kind's default role when the
// stored value is not one the kind may hold.
func (r *Resolver) effectiveRole(kind PrincipalKind, stored Role, id int64) Role {
	if kind != KindAdmin && !CanHold(kind, stored) {
		r.logger.Warn("stored role not allowed for kind, using default",
			"kind", string(kind), "id", id, "role", string(stored))
	}
	return storedRole(kind, stored)
}

func (r *Resolver) repository(kind PrincipalKind) PrincipalRepository {
	if repo, ok := r.byKind[kind]; ok {
		return repo
	}
	return r.fallback
}
