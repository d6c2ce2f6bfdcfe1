package auth

import "context"

const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Identity is the caller on whose behalf an operation runs.
type Identity struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// System is used for work that has no human caller, such as the CLI.
var System = Identity{ActorID: "system", Role: RoleSystem}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity and whether one was set.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Actor returns the actor id of the caller, or "anonymous".
func Actor(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.ActorID != "" {
		return id.ActorID
	}
	return "anonymous"
}

func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}
