package auth

// Rule decides whether a principal may perform an operation.
type Rule func(p *Principal) bool

// Authorize evaluates rule against principal. Every denial, whatever the
// failing condition, is ErrForbidden.
func Authorize(principal *Principal, rule Rule) error {
	if principal == nil || rule == nil {
		return ErrForbidden
	}
	if !rule(principal) {
		return ErrForbidden
	}
	return nil
}

// AdminOnly allows principals holding the admin role.
func AdminOnly() Rule {
	return func(p *Principal) bool {
		return p.Role.IsAdmin()
	}
}

// SelfOrAdmin allows admins and the user whose id equals ownerID.
func SelfOrAdmin(ownerID int64) Rule {
	return func(p *Principal) bool {
		if p.Role.IsAdmin() {
			return true
		}
		return p.Role == RoleUser && p.Kind == KindUser && p.ID == ownerID
	}
}

// SelfOrAdminOf allows admins and the principal of kind whose id equals ownerID.
func SelfOrAdminOf(kind PrincipalKind, ownerID int64) Rule {
	return func(p *Principal) bool {
		if p.Role.IsAdmin() {
			return true
		}
		return p.Kind == kind && p.ID == ownerID
	}
}

// RoleIn allows principals holding any of roles.
func RoleIn(roles ...Role) Rule {
	return func(p *Principal) bool {
		for _, r := range roles {
			if p.Role == r {
				return true
			}
		}
		return false
	}
}

// All allows when every rule allows. It stops at the first denial and denies
// when given no rules.
func All(rules ...Rule) Rule {
	return func(p *Principal) bool {
		if len(rules) == 0 {
			return false
		}
		for _, rule := range rules {
			if rule == nil || !rule(p) {
				return false
			}
		}
		return true
	}
}

// Any allows when one rule allows. It stops at the first grant.
func Any(rules ...Rule) Rule {
	return func(p *Principal) bool {
		for _, rule := range rules {
			if rule != nil && rule(p) {
				return true
			}
		}
		return false
	}
}

// Authenticated allows any resolved principal.
func Authenticated() Rule {
	return func(p *Principal) bool {
		return p != nil
	}
}
