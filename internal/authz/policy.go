package authz

import (
	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/ratelimit"
)

// Policy configures the pipeline for one endpoint class. Construct policies
// with RequirePermissions or Protect so session liveness and auditing stay on
// unless deliberately switched off.
type Policy struct {
	// Permissions the caller's effective set must be a superset of.
	Permissions []string
	// UserTypes restricts who may call; empty means any authenticated type.
	UserTypes []rbac.UserType
	// Roles restricts by role template name; empty means any role.
	Roles []string
	// RequireSession demands a live server-side session behind the
	// credential.
	RequireSession bool
	// AllowLegacy permits the deprecated credential format, upgrading it
	// transparently on success.
	AllowLegacy bool
	// AllowQueryToken accepts the credential as a `token` query parameter.
	// Reserved for read-only endpoints that cannot carry headers.
	AllowQueryToken bool
	// RateLimit throttles per client key before any credential work. Nil
	// means no endpoint-level throttle.
	RateLimit *ratelimit.Limit
	// Audit emits structured events for every pipeline transition.
	Audit bool
}

// Protect returns the baseline policy for an authenticated endpoint:
// live session mandatory, auditing on, legacy credentials accepted.
func Protect() Policy {
	return Policy{RequireSession: true, AllowLegacy: true, Audit: true}
}

// RequirePermissions returns the baseline policy narrowed to callers whose
// effective permission set covers all the given keys.
func RequirePermissions(keys ...string) Policy {
	p := Protect()
	p.Permissions = keys
	return p
}
