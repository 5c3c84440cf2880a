package auth

import (
	"errors"
	"fmt"

	"ugchub/internal/domain"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

// System is used by background jobs.
var System = Actor{ID: "system", Role: "system"}

func (a Actor) IsSystem() bool { return a.Role == System.Role }

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}

// RequireRole checks the actor's role.
func RequireRole(a Actor, role, action string) error {
	if a.ID == "" {
		return errors.New("actor_id required")
	}
	if a.IsSystem() || a.Role == role {
		return nil
	}
	return ForbiddenError{ActorID: a.ID, Action: action}
}

// RequireParty checks that the actor is the creator or the analyst of the
// entity.
func RequireParty(a Actor, action, creatorID, analystID string) error {
	if a.ID == "" {
		return errors.New("actor_id required")
	}
	if a.IsSystem() {
		return nil
	}
	if a.Role == domain.RoleCreator && a.ID == creatorID {
		return nil
	}
	if a.Role == domain.RoleAnalyst && a.ID == analystID {
		return nil
	}
	return ForbiddenError{ActorID: a.ID, Action: action}
}

// RequireOwner checks that the actor is exactly ownerID.
func RequireOwner(a Actor, action, ownerID string) error {
	if a.ID == "" {
		return errors.New("actor_id required")
	}
	if a.IsSystem() || a.ID == ownerID {
		return nil
	}
	return ForbiddenError{ActorID: a.ID, Action: action}
}
