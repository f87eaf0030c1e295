package auth

import "peritaje/api/internal/rbac"

// Principal is the authenticated caller of one request. It is immutable.
type Principal struct {
	userID      string
	displayName string
	role        rbac.Role
}

// BuildPrincipal converts validated claims into a Principal. Claims without a
// subject never come out of Validate, so an empty subject panics.
func BuildPrincipal(claims Claims) Principal {
	if claims.Subject == "" {
		panic("auth: BuildPrincipal called with empty subject")
	}
	displayName := claims.Email
	if displayName == "" {
		displayName = claims.Subject
	}
	return Principal{
		userID:      claims.Subject,
		displayName: displayName,
		role:        rbac.RoleUser,
	}
}

func (p Principal) UserID() string {
	return p.userID
}

func (p Principal) DisplayName() string {
	return p.displayName
}

func (p Principal) Role() rbac.Role {
	return p.role
}

func (p Principal) Authorities() []rbac.Role {
	return []rbac.Role{p.role}
}

func (p Principal) Can(action rbac.Action) bool {
	return rbac.Can(p.role, action)
}
