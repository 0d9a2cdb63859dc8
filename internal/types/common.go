package types

import (
	"github.com/gofrs/uuid"
)

// HTTP Header Constants
const (
	HeaderUID           = "uid"
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderRequestID     = "X-Request-ID"
)

// Authentication Constants
const (
	BearerPrefix = "Bearer "
)

// UserCtxName is the fiber Locals key holding the authenticated UserContext
const UserCtxName = "user"

// Common Values
const (
	UserRole   = "user"
	AdminRole  = "admin"
	SystemRole = "system"
)

// UserContext is the authenticated caller as resolved from the access token.
type UserContext struct {
	UserID      uuid.UUID `json:"uid"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	SystemRole  string    `json:"role"`
	Roles       []string  `json:"roles,omitempty"`
}

// HasRole reports whether the user holds role, either as system role or in Roles.
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	if u.SystemRole == role {
		return true
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
