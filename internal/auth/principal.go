// Package auth holds the authenticated identity that the gate attaches to a
// request and that services receive explicitly.
package auth

import "context"

// Principal is the caller identity resolved from a valid access token.
type Principal struct {
	UserID      uint     `json:"user_id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the principal carries any of the given roles.
func (p Principal) HasRole(titles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range titles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasPermission reports whether the principal carries the permission.
func (p Principal) HasPermission(permission string) bool {
	for _, have := range p.Permissions {
		if have == permission {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
