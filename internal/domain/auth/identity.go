package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Role is the platform role carried by an authenticated identity.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleChef   Role = "CHEF"
	RoleAdmin  Role = "ADMIN"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleChef, RoleAdmin:
		return true
	default:
		return false
	}
}

// Identity is the acting user of a request. For clients and chefs SubjectID
// is the id of the client or chef profile respectively.
type Identity struct {
	SubjectID string
	Role      Role
}

// HasRole reports whether the identity holds any of the given roles.
func (i Identity) HasRole(roles ...Role) bool {
	return slices.Contains(roles, i.Role)
}

type identityKey struct{}

// WithIdentity stores id in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
