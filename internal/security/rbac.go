package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Roles
const (
	// RoleOperator may inspect, discard and requeue operations.
	RoleOperator = "operator"
	// RoleKiosk is the front-end: it submits writes and manages its session.
	RoleKiosk = "kiosk"
	// RoleReadonly may only read status and queue contents.
	RoleReadonly = "readonly"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleOperator, RoleKiosk, RoleReadonly}

// IsValidRole reports whether role is known.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// routePermission defines which roles can access a method+path pattern.
type routePermission struct {
	Method  string // HTTP method, "*" for any
	Pattern string // path prefix with {id} wildcards
	Roles   []string
}

// permissions is checked in order; the first matching entry decides.
var permissions = []routePermission{
	{Method: "POST", Pattern: "/api/writes", Roles: []string{RoleOperator, RoleKiosk}},
	{Method: "POST", Pattern: "/api/sync", Roles: []string{RoleOperator, RoleKiosk}},
	{Method: "POST", Pattern: "/api/connectivity", Roles: []string{RoleOperator, RoleKiosk}},
	{Method: "*", Pattern: "/api/session/token", Roles: []string{RoleOperator, RoleKiosk}},
	{Method: "GET", Pattern: "/api/", Roles: []string{RoleOperator, RoleKiosk, RoleReadonly}},
	{Method: "GET", Pattern: "/metrics", Roles: []string{RoleOperator, RoleKiosk, RoleReadonly}},
	// queue mutations and anything else
	{Method: "*", Pattern: "/api/", Roles: []string{RoleOperator}},
}

// RequireRole returns middleware that checks the JWT role against allowed roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err != nil {
				// No claims means dev mode (no secret set), allow through
				next.ServeHTTP(w, r)
				return
			}
			if !roleSet[claims.Role] {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission returns middleware that checks the caller's role
// against the route permission table.
func RequirePermission() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !CheckPermission(claims.Role, r.Method, r.URL.Path) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckPermission checks if the given role is allowed to access method+path.
// Operators always have access.
func CheckPermission(role, method, path string) bool {
	if role == RoleOperator {
		return true
	}

	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}

	for _, perm := range permissions {
		if !matchRoute(perm.Pattern, path) || (perm.Method != "*" && perm.Method != method) {
			continue
		}
		for _, r := range perm.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
	return false
}

// matchRoute checks if a path matches a route pattern (prefix-based with {id} wildcards).
func matchRoute(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path+"/", pattern)
	}

	patParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(pathParts) < len(patParts) {
		return false
	}
	for i, pp := range patParts {
		if strings.HasPrefix(pp, "{") && strings.HasSuffix(pp, "}") {
			continue
		}
		if pp != pathParts[i] {
			return false
		}
	}
	return true
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, fmt.Sprintf(`{"error":"%s"}`, ErrInsufficientRole.Error()), http.StatusForbidden)
}
