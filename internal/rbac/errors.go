package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrBuiltInTemplate is returned when deleting a built-in template.
	ErrBuiltInTemplate = errors.New("rbac: built-in templates cannot be deleted")
	// ErrTemplateInUse is returned when deleting a template with active assignments.
	ErrTemplateInUse = errors.New("rbac: template has active assignments")
	// ErrTenantScope indicates a user-type/tenant-scope mismatch on an assignment.
	ErrTenantScope = errors.New("rbac: invalid tenant scope for user type")
	// ErrDuplicateAssignment indicates the user already has an active assignment.
	ErrDuplicateAssignment = errors.New("rbac: user already has an active assignment")
	// ErrDuplicateTemplate indicates a template with the same name exists.
	ErrDuplicateTemplate = errors.New("rbac: template name already taken")
)

// UnknownPermissionsError reports permission keys that do not exist or are
// inactive, rejecting the whole operation that referenced them.
type UnknownPermissionsError struct {
	Keys []string
}

func (e *UnknownPermissionsError) Error() string {
	return fmt.Sprintf("rbac: unknown or inactive permission keys: %s", strings.Join(e.Keys, ", "))
}
