// Package token mints and verifies the signed access credentials carried by
// clients. A credential is a claims snapshot, not an authority: the session
// it names must still be live for the credential to count.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/qrdine/qrdine/internal/rbac"
)

var (
	// ErrMalformed indicates the credential is not a parseable token.
	ErrMalformed = errors.New("token: malformed credential")
	// ErrExpired indicates the credential's own expiry has passed.
	ErrExpired = errors.New("token: credential expired")
	// ErrInvalid indicates a bad signature or otherwise untrusted credential.
	ErrInvalid = errors.New("token: invalid credential")
)

// RoleSnapshot captures the role held at mint time. It is advisory display
// state; authorization always recomputes from the catalog.
type RoleSnapshot struct {
	UserType     rbac.UserType
	Template     string
	RestaurantID *uuid.UUID
}

// Claims is the signed claims bundle inside an access credential.
type Claims struct {
	UserID       string `json:"uid"`
	SessionID    string `json:"sid"`
	UserType     string `json:"utype"`
	RoleTemplate string `json:"role"`
	RestaurantID string `json:"rest,omitempty"`
	jwt.RegisteredClaims
}

// Role reconstructs the role snapshot from the claims.
func (c *Claims) Role() RoleSnapshot {
	snapshot := RoleSnapshot{
		UserType: rbac.UserType(c.UserType),
		Template: c.RoleTemplate,
	}
	if c.RestaurantID != "" {
		if id, err := uuid.Parse(c.RestaurantID); err == nil {
			snapshot.RestaurantID = &id
		}
	}
	return snapshot
}

// Service signs and verifies access credentials using HMAC-SHA256.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(secret, issuer string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TTL exposes the credential lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Mint signs a credential binding the user, session and role snapshot.
func (s *Service) Mint(userID, sessionID string, role RoleSnapshot) (string, *Claims, error) {
	now := s.now().UTC()
	claims := &Claims{
		UserID:       userID,
		SessionID:    sessionID,
		UserType:     string(role.UserType),
		RoleTemplate: role.Template,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if role.RestaurantID != nil {
		claims.RestaurantID = role.RestaurantID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// Failures are typed so callers can attempt the legacy upgrade path before
// treating the credential as dead.
func (s *Service) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %s", ErrExpired, err)
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
		}
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session binding", ErrInvalid)
	}
	return claims, nil
}

// Refresh mints a replacement credential with a fresh expiry while keeping
// the session identity and role snapshot.
func (s *Service) Refresh(claims *Claims) (string, *Claims, error) {
	return s.Mint(claims.UserID, claims.SessionID, claims.Role())
}
