package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
)

// LegacyClaims is the first-generation credential payload: flat fields,
// a separate signing secret and no session binding.
type LegacyClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	UserType string `json:"type"`
	jwt.RegisteredClaims
}

// LegacyVerifier validates deprecated-format credentials. It exists only to
// keep previously issued logins working until they age out.
type LegacyVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewLegacyVerifier constructs a LegacyVerifier.
func NewLegacyVerifier(secret string) *LegacyVerifier {
	return &LegacyVerifier{secret: []byte(secret), now: time.Now}
}

// WithClock overrides the time source, for tests.
func (v *LegacyVerifier) WithClock(now func() time.Time) *LegacyVerifier {
	v.now = now
	return v
}

// Verify validates a credential under the legacy rules.
func (v *LegacyVerifier) Verify(raw string) (*LegacyClaims, error) {
	claims := &LegacyClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
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
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrInvalid)
	}
	return claims, nil
}

// AssignmentSource resolves a user's active role assignment.
type AssignmentSource interface {
	AssignmentForUser(ctx context.Context, userID string) (rbac.Assignment, error)
}

// Upgrader transparently converts validating legacy credentials into
// current-format ones without forcing re-authentication.
type Upgrader struct {
	legacy   *LegacyVerifier
	tokens   *Service
	sessions *session.Manager
	roles    AssignmentSource
	logger   *slog.Logger
}

// NewUpgrader constructs an Upgrader.
func NewUpgrader(legacy *LegacyVerifier, tokens *Service, sessions *session.Manager, roles AssignmentSource, logger *slog.Logger) *Upgrader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Upgrader{legacy: legacy, tokens: tokens, sessions: sessions, roles: roles, logger: logger}
}

// Upgrade validates raw under the legacy rules and, on success, opens a
// session (legacy credentials predate session tracking) and mints a
// current-format replacement. A credential failing legacy validation yields
// StatusInvalid, never an error: the pipeline treats it as an ordinary
// unauthenticated failure.
func (u *Upgrader) Upgrade(ctx context.Context, raw, ip, userAgent string) (Result, error) {
	legacyClaims, err := u.legacy.Verify(raw)
	if err != nil {
		return Result{Status: StatusInvalid}, nil
	}

	assignment, err := u.roles.AssignmentForUser(ctx, legacyClaims.UserID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			// A legacy credential for a user with no active role cannot be
			// upgraded into anything useful.
			return Result{Status: StatusInvalid}, nil
		}
		return Result{}, fmt.Errorf("token: upgrade role lookup: %w", err)
	}

	sess, err := u.sessions.Create(ctx, legacyClaims.UserID, ip, userAgent)
	if err != nil {
		return Result{}, fmt.Errorf("token: upgrade session: %w", err)
	}

	refreshed, claims, err := u.tokens.Mint(legacyClaims.UserID, sess.ID, RoleSnapshot{
		UserType:     assignment.UserType,
		Template:     assignment.TemplateName,
		RestaurantID: assignment.RestaurantID,
	})
	if err != nil {
		return Result{}, err
	}

	u.logger.Info("legacy credential upgraded",
		slog.String("user", legacyClaims.UserID),
		slog.String("session", sess.ID))

	return Result{Status: StatusLegacyUpgraded, Claims: claims, Refreshed: refreshed}, nil
}
