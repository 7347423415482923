package rbac

import (
	"time"

	"github.com/google/uuid"
)

// UserType classifies the actor holding a role assignment.
type UserType string

// Known user types.
const (
	UserTypePlatformAdmin   UserType = "platform_admin"
	UserTypeRestaurantOwner UserType = "restaurant_owner"
	UserTypeStaff           UserType = "staff"
)

// Valid reports whether the user type is one of the known values.
func (t UserType) Valid() bool {
	switch t {
	case UserTypePlatformAdmin, UserTypeRestaurantOwner, UserTypeStaff:
		return true
	}
	return false
}

// Permission represents an atomic capability in the catalog. Keys are
// immutable; entries are deactivated rather than deleted so a key is never
// reused with a different meaning.
type Permission struct {
	Key         string
	Category    string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// RoleTemplate is a named, reusable baseline permission set.
type RoleTemplate struct {
	ID             int64
	Name           string
	Description    string
	PermissionKeys []string
	BuiltIn        bool
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Built-in role templates seeded at install time. They cannot be deleted.
const (
	TemplatePlatformAdmin   = "platform_admin"
	TemplateRestaurantOwner = "restaurant_owner"
	TemplateManager         = "manager"
	TemplateKitchenStaff    = "kitchen_staff"
	TemplateServerStaff     = "server_staff"
)

// BuiltInTemplates lists the template names that ship with the platform.
func BuiltInTemplates() []string {
	return []string{
		TemplatePlatformAdmin,
		TemplateRestaurantOwner,
		TemplateManager,
		TemplateKitchenStaff,
		TemplateServerStaff,
	}
}

// Assignment ties a user to a role template within an optional restaurant
// scope, plus explicit permission grants beyond the template baseline.
type Assignment struct {
	ID                uuid.UUID
	UserID            string
	UserType          UserType
	TemplateName      string
	RestaurantID      *uuid.UUID
	CustomPermissions []string
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Core platform permissions used by the authorization surface itself.
const (
	PermRBACView       = "rbac:view"
	PermRBACEdit       = "rbac:edit"
	PermSessionsRevoke = "sessions:revoke"
	PermAuditView      = "audit:view"
)
