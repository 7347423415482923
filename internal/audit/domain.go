// Package audit records structured security events. Recording is
// fire-and-forget: a logging fault must never fail the request that
// triggered it.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks how alarming an event is.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Well-known event types emitted by the authorization surface.
const (
	EventAccessGranted      = "access.granted"
	EventAccessDenied       = "access.denied"
	EventRateLimited        = "rate.limited"
	EventCredentialInvalid  = "credential.invalid"
	EventCredentialUpgraded = "credential.upgraded"
	EventSessionRevoked     = "session.revoked"
	EventLoginSuccess       = "login.success"
	EventLoginFailed        = "login.failed"
	EventInternalError      = "internal.error"
)

// Actor placeholders for events without an authenticated user.
const (
	ActorSystem    = "system"
	ActorAnonymous = "anonymous"
)

// Event is one append-only audit record. Events are never mutated.
type Event struct {
	ID          uuid.UUID
	ActorID     string
	Type        string
	Severity    Severity
	Description string
	Metadata    map[string]any
	At          time.Time
}
