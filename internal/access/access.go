// Package access holds the visibility and ownership rules shared by every
// store. A resource is visible to its owner and, when public, to everyone;
// only the owner may change it.
package access

import (
	"github.com/google/uuid"

	"github.com/lioarce01/prompt-version-hub/internal/apperr"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanMutate reports whether the role may call write endpoints at all.
func (r Role) CanMutate() bool {
	return r == RoleAdmin || r == RoleEditor
}

type Principal struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

func CanView(p Principal, owner uuid.UUID, isPublic bool) bool {
	return p.ID == owner || isPublic
}

// Read fails with NotFound when the resource is invisible to p, so callers
// cannot probe for private names.
func Read(p Principal, owner uuid.UUID, isPublic bool, what string) error {
	if !CanView(p, owner, isPublic) {
		return apperr.NotFound("%s not found", what)
	}
	return nil
}

// Own requires p to be the owner: NotFound when invisible, Forbidden when
// visible but owned by someone else.
func Own(p Principal, owner uuid.UUID, isPublic bool, what string) error {
	if err := Read(p, owner, isPublic, what); err != nil {
		return err
	}
	if p.ID != owner {
		return apperr.Forbidden("only the owner can modify %s", what)
	}
	return nil
}

// Manage is Own with an admin override.
func Manage(p Principal, owner uuid.UUID, isPublic bool, what string) error {
	if p.IsAdmin() {
		return nil
	}
	return Own(p, owner, isPublic, what)
}
