// Package principal models the authenticated identity a request acts under.
// Authentication itself happens upstream; this package only carries the
// resulting (id, role) pair through the request context.
package principal

import "context"

// Role is the access tier assigned to a principal.
type Role string

const (
	RolePublic        Role = "public"
	RoleAuthenticated Role = "authenticated"
	RoleAdmin         Role = "admin"
	RoleRoot          Role = "root"
)

// roleRank orders roles from least to most privileged.
var roleRank = map[Role]int{
	RolePublic:        0,
	RoleAuthenticated: 1,
	RoleAdmin:         2,
	RoleRoot:          3,
}

// IsValid checks the role is one of the supported values.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the privileges of min.
// Unknown roles never satisfy any requirement.
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	mr, ok := roleRank[min]
	if !ok {
		return false
	}
	return rr >= mr
}

// ParseRole maps an incoming role claim to a Role, defaulting unknown
// values to the least privileged tier rather than rejecting the request.
func ParseRole(s string) Role {
	r := Role(s)
	if r.IsValid() {
		return r
	}
	return RolePublic
}

// Principal is the identity a request acts under.
type Principal struct {
	ID   string
	Role Role
}

// Anonymous is the principal attached to unauthenticated requests.
// The ID is the client IP, filled in by the metadata middleware.
func Anonymous(clientIP string) Principal {
	return Principal{ID: clientIP, Role: RolePublic}
}

type contextKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the request principal. The boolean is false when no
// authentication middleware ran, which callers should treat as public access.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
