package auth

// Role is the authorization role stored on a principal's record.
type Role string

const (
	// RoleUser is an end-user, allowed to act on resources it owns
	RoleUser Role = "user"
	// RoleAdmin is a platform administrator
	RoleAdmin Role = "admin"
	// RoleOrganization is a waste collection operator
	RoleOrganization Role = "organization"
	// RoleClientCompany is a business customer
	RoleClientCompany Role = "client_company"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOrganization, RoleClientCompany:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// DefaultRoleFor returns the role a freshly registered principal of kind gets.
func DefaultRoleFor(kind PrincipalKind) Role {
	switch kind {
	case KindAdmin:
		return RoleAdmin
	case KindOrganization:
		return RoleOrganization
	case KindClientCompany:
		return RoleClientCompany
	default:
		return RoleUser
	}
}

// AllowedRolesFor lists the roles a principal of kind may hold. Only user
// accounts can be promoted.
func AllowedRolesFor(kind PrincipalKind) []Role {
	switch kind {
	case KindUser:
		return []Role{RoleUser, RoleAdmin}
	case KindAdmin:
		return []Role{RoleAdmin}
	case KindOrganization:
		return []Role{RoleOrganization}
	case KindClientCompany:
		return []Role{RoleClientCompany}
	default:
		return nil
	}
}

// CanHold reports whether kind may carry role.
func CanHold(kind PrincipalKind, role Role) bool {
	for _, r := range AllowedRolesFor(kind) {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}
