package auth_test

import (
	"context"
	"testing"

	auth "github.com/ecofy/ecofy-auth"
	"github.com/stretchr/testify/assert"
)

func TestAuthorizeRules(t *testing.T) {
	admin := &auth.Principal{ID: 1, Kind: auth.KindAdmin, Role: auth.RoleAdmin, Status: auth.StatusActive}
	promoted := &auth.Principal{ID: 3, Kind: auth.KindUser, Role: auth.RoleAdmin, Status: auth.StatusActive}
	owner := &auth.Principal{ID: 42, Kind: auth.KindUser, Role: auth.RoleUser, Status: auth.StatusActive}
	caller := &auth.Principal{ID: 7, Kind: auth.KindUser, Role: auth.RoleUser, Status: auth.StatusActive}
	org := &auth.Principal{ID: 42, Kind: auth.KindOrganization, Role: auth.RoleOrganization, Status: auth.StatusActive}

	tests := []struct {
		name      string
		principal *auth.Principal
		rule      auth.Rule
		allowed   bool
	}{
		{name: "admin only allows admin", principal: admin, rule: auth.AdminOnly(), allowed: true},
		{name: "admin only allows promoted user", principal: promoted, rule: auth.AdminOnly(), allowed: true},
		{name: "admin only denies user", principal: owner, rule: auth.AdminOnly(), allowed: false},
		{name: "self or admin allows owner", principal: owner, rule: auth.SelfOrAdmin(42), allowed: true},
		{name: "self or admin denies other user", principal: caller, rule: auth.SelfOrAdmin(42), allowed: false},
		{name: "self or admin allows admin", principal: admin, rule: auth.SelfOrAdmin(42), allowed: true},
		{name: "self or admin denies same id of other kind", principal: org, rule: auth.SelfOrAdmin(42), allowed: false},
		{name: "self or admin of kind allows owner", principal: org, rule: auth.SelfOrAdminOf(auth.KindOrganization, 42), allowed: true},
		{name: "self or admin of kind denies other kind", principal: owner, rule: auth.SelfOrAdminOf(auth.KindOrganization, 42), allowed: false},
		{name: "role in allows listed role", principal: org, rule: auth.RoleIn(auth.RoleOrganization, auth.RoleClientCompany), allowed: true},
		{name: "role in denies unlisted role", principal: owner, rule: auth.RoleIn(auth.RoleOrganization), allowed: false},
		{name: "all requires every rule", principal: owner, rule: auth.All(auth.Authenticated(), auth.AdminOnly()), allowed: false},
		{name: "all passes when every rule passes", principal: admin, rule: auth.All(auth.Authenticated(), auth.AdminOnly()), allowed: true},
		{name: "empty all denies", principal: admin, rule: auth.All(), allowed: false},
		{name: "any passes on one rule", principal: owner, rule: auth.Any(auth.AdminOnly(), auth.SelfOrAdmin(42)), allowed: true},
		{name: "empty any denies", principal: admin, rule: auth.Any(), allowed: false},
		{name: "nil rule denies", principal: admin, rule: nil, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authorize(tt.principal, tt.rule)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, auth.ErrForbidden)
		})
	}
}

func TestAuthorizeNilPrincipal(t *testing.T) {
	assert.ErrorIs(t, auth.Authorize(nil, auth.Authenticated()), auth.ErrForbidden)
}

func TestAuthorizeDenialsAreIndistinguishable(t *testing.T) {
	caller := &auth.Principal{ID: 7, Kind: auth.KindUser, Role: auth.RoleUser, Status: auth.StatusActive}

	notAdmin := auth.Authorize(caller, auth.AdminOnly())
	notOwner := auth.Authorize(caller, auth.SelfOrAdmin(42))

	assert.Equal(t, notAdmin, notOwner)
	assert.Equal(t, 403, auth.HTTPStatus(notOwner))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	_, ok := auth.FromContext(ctx)
	assert.False(t, ok)
	assert.False(t, auth.Can(ctx, auth.Authenticated()))

	principal := &auth.Principal{ID: 42, Kind: auth.KindUser, Role: auth.RoleUser, Status: auth.StatusActive}
	ctx = auth.WithContext(ctx, principal)
	ctx = auth.WithClaimsContext(ctx, &auth.Claims{Sub: 42, Kind: auth.KindUser})

	got, ok := auth.FromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, principal, got)

	claims, ok := auth.GetClaims(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), claims.Sub)

	assert.True(t, auth.Can(ctx, auth.SelfOrAdmin(42)))
	assert.False(t, auth.Can(ctx, auth.AdminOnly()))
}
