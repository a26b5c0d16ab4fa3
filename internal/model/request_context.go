package model

import "github.com/google/uuid"

// AuthMethod distinguishes interactive logins from service credentials.
type AuthMethod string

const (
	AuthMethodJwt    AuthMethod = "jwt"    // interactive human login
	AuthMethodClient AuthMethod = "client" // non-interactive service credential
)

const RoleAdmin = "admin"

// RequestContext carries the authenticated caller through every service call.
// It is built once by the auth middleware and passed explicitly; there is no
// ambient authentication state.
type RequestContext struct {
	UserID     uuid.UUID
	Roles      []string
	AuthMethod AuthMethod
}

// HasRole reports whether the caller holds the given role.
func (c RequestContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is a shorthand for the admin role check.
func (c RequestContext) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}
