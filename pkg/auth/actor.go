package auth

import (
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Actor is the authenticated caller with its pre-validated permission codes.
type Actor struct {
	ID          uuid.UUID
	permissions map[enums.Permission]struct{}
}

// NewActor builds an actor, ignoring codes this service does not know.
func NewActor(id uuid.UUID, perms ...enums.Permission) Actor {
	set := make(map[enums.Permission]struct{}, len(perms))
	for _, perm := range perms {
		if perm.IsValid() {
			set[perm] = struct{}{}
		}
	}
	return Actor{ID: id, permissions: set}
}

// Can reports whether the actor holds perm.
func (a Actor) Can(perm enums.Permission) bool {
	_, ok := a.permissions[perm]
	return ok
}

// CanAny reports whether the actor holds at least one of perms.
func (a Actor) CanAny(perms ...enums.Permission) bool {
	for _, perm := range perms {
		if a.Can(perm) {
			return true
		}
	}
	return false
}

// Permissions returns the held codes in a stable order.
func (a Actor) Permissions() []enums.Permission {
	out := make([]enums.Permission, 0, len(a.permissions))
	for perm := range a.permissions {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsZero reports whether no authenticated actor is present.
func (a Actor) IsZero() bool {
	return a.ID == uuid.Nil
}
