package auth

import (
	"context"

	"github.com/aurelia-jewels/api/internal/domain"
)

// Identity captures the authenticated principal attached to a request.
type Identity struct {
	UserID string
	Email  string
	Role   domain.Role
	User   domain.User
}

// HasRole reports whether the identity carries the requested role.
func (i *Identity) HasRole(role domain.Role) bool {
	return i != nil && i.Role == role
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(domain.RoleAdmin)
}

type contextKey string

const identityContextKey contextKey = "github.com/aurelia-jewels/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
