package collab

import (
	"context"

	"chronicle/collab/internal/domainerr"
	"chronicle/collab/internal/rbac"
)

// Authorizer decides whether a session may submit edits.
type Authorizer interface {
	AuthorizeEdit(ctx context.Context, session Session) error
}

// RoleAuthorizer allows edits from roles that rbac grants ActionEdit.
type RoleAuthorizer struct{}

func (RoleAuthorizer) AuthorizeEdit(_ context.Context, session Session) error {
	if !rbac.Can(session.Role, rbac.ActionEdit) {
		return domainerr.PermissionDenied.Withf("role %q cannot edit", session.Role)
	}
	return nil
}
