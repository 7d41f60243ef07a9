package auth

import (
	"errors"
	"strings"
)

// Role represents a caller's access level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrInvalidRole  = errors.New("invalid role")
)

var roleLevel = map[Role]int{
	RoleAdmin: 100,
	RoleUser:  10,
}

// RBACEngine enforces role-based access control.
type RBACEngine struct {
	routePermissions map[string]Role // route prefix → minimum required role
}

// NewRBACEngine creates a new RBAC engine with default route permissions.
func NewRBACEngine() *RBACEngine {
	return &RBACEngine{
		routePermissions: map[string]Role{
			"/v1/admin": RoleAdmin,

			"/v1/batches": RoleUser,
			"/v1/import":  RoleUser,
			"/v1/config":  RoleUser,
		},
	}
}

// CheckRouteAccess verifies the role has access to the given route.
func (e *RBACEngine) CheckRouteAccess(role Role, route string) error {
	requiredRole := e.findRequiredRole(route)
	if requiredRole == "" {
		return nil
	}

	userLevel, ok := roleLevel[role]
	if !ok {
		return ErrInvalidRole
	}
	if userLevel < roleLevel[requiredRole] {
		return ErrAccessDenied
	}
	return nil
}

// findRequiredRole finds the minimum role for a route. The longest matching
// prefix wins.
func (e *RBACEngine) findRequiredRole(route string) Role {
	if role, ok := e.routePermissions[route]; ok {
		return role
	}

	var best string
	for prefix := range e.routePermissions {
		if strings.HasPrefix(route, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return e.routePermissions[best]
}

// ParseRole converts a string to a Role. An empty string is RoleUser.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleUser, nil
	}
	role := Role(s)
	if _, ok := roleLevel[role]; !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}
