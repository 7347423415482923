// Package session is the authoritative server-side record of authenticated
// logins. A credential is only trusted while its session is live; revoking
// the session kills the credential no matter how long its signature would
// otherwise remain valid.
package session

import (
	"errors"
	"time"
)

// Session is the server-side record of one login.
type Session struct {
	ID           string
	UserID       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	IP           string
	UserAgent    string
	RevokedAt    *time.Time
}

// Live reports whether the session is usable at the given instant.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

var (
	// ErrNotFound indicates no session exists with the given ID.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired indicates the session outlived its expiry.
	ErrExpired = errors.New("session: expired")
	// ErrRevoked indicates the session was explicitly revoked.
	ErrRevoked = errors.New("session: revoked")
)
