package enums

import "fmt"

// ActorRole identifies what a bearer token is allowed to do.
type ActorRole string

const (
	ActorRoleUser      ActorRole = "user"
	ActorRoleAdmin     ActorRole = "admin"
	ActorRoleScheduler ActorRole = "scheduler"
)

var validActorRoles = []ActorRole{
	ActorRoleUser,
	ActorRoleAdmin,
	ActorRoleScheduler,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is known.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
