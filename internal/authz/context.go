// Package authz runs the per-request authorization pipeline: throttling,
// credential verification, session liveness, role and permission checks,
// ending in an immutable request context for downstream handlers.
package authz

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/qrdine/qrdine/internal/rbac"
)

type contextKey struct{}

// Context is the immutable outcome of a granted authorization decision.
// All fields are fixed at assembly; handlers read, never write.
type Context struct {
	userID       string
	userType     rbac.UserType
	roleTemplate string
	restaurantID *uuid.UUID
	sessionID    string
	permissions  map[string]struct{}
	refreshed    bool
}

// UserID returns the authenticated user's identity.
func (c *Context) UserID() string { return c.userID }

// UserType returns the caller's user type.
func (c *Context) UserType() rbac.UserType { return c.userType }

// RoleTemplate returns the name of the caller's role template.
func (c *Context) RoleTemplate() string { return c.roleTemplate }

// SessionID returns the live session backing this request.
func (c *Context) SessionID() string { return c.sessionID }

// Refreshed reports whether the credential was upgraded from the legacy
// format during this request.
func (c *Context) Refreshed() bool { return c.refreshed }

// Tenant returns the restaurant scope of the caller, or nil for
// platform-wide callers. For staff this is the only tenant a request may
// act on.
func (c *Context) Tenant() *uuid.UUID {
	if c.restaurantID == nil {
		return nil
	}
	id := *c.restaurantID
	return &id
}

// SameTenant reports whether the caller may act within the given
// restaurant. Platform-wide callers (no tenant scope) always may.
func (c *Context) SameTenant(restaurantID uuid.UUID) bool {
	if c.restaurantID == nil {
		return true
	}
	return *c.restaurantID == restaurantID
}

// Can reports whether the effective permission set contains key.
func (c *Context) Can(key string) bool {
	_, ok := c.permissions[key]
	return ok
}

// CanAll reports whether every given key is in the effective set.
func (c *Context) CanAll(keys ...string) bool {
	for _, key := range keys {
		if !c.Can(key) {
			return false
		}
	}
	return true
}

// Permissions returns a sorted copy of the effective permission keys.
func (c *Context) Permissions() []string {
	out := make([]string, 0, len(c.permissions))
	for key := range c.permissions {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// WithContext stores an authorization context on a request context.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext retrieves the authorization context placed by the guard.
func FromContext(ctx context.Context) (*Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(*Context)
	return ac, ok
}
