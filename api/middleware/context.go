package middleware

import "context"

type identityKey struct{}

// Identity is the authenticated caller as read from the access token.
type Identity struct {
	UserID string
	Role   string
	Tier   string
}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller and whether Auth ran.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

func TierFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Tier
}
