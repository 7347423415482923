package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
	"github.com/qrdine/qrdine/internal/token"
)

// Service wraps the login business rules: password verification, session
// establishment and credential minting.
type Service struct {
	repo     Repository
	sessions *session.Manager
	tokens   *token.Service
	roles    token.AssignmentSource
}

// NewService constructs a Service.
func NewService(repo Repository, sessions *session.Manager, tokens *token.Service, roles token.AssignmentSource) *Service {
	return &Service{repo: repo, sessions: sessions, tokens: tokens, roles: roles}
}

// LoginResult carries everything a successful login produces.
type LoginResult struct {
	User    *User
	Session session.Session
	Token   string
	Claims  *token.Claims
}

// Login authenticates email/password, opens a session and mints a
// credential bound to it. All credential failures collapse into
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (LoginResult, error) {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}

	role := token.RoleSnapshot{UserType: user.UserType}
	assignment, err := s.roles.AssignmentForUser(ctx, user.ID)
	switch {
	case err == nil:
		role = token.RoleSnapshot{
			UserType:     assignment.UserType,
			Template:     assignment.TemplateName,
			RestaurantID: assignment.RestaurantID,
		}
	case errors.Is(err, rbac.ErrNotFound):
		// An account without a role assignment still logs in; every
		// permission check downstream will deny it.
	default:
		return LoginResult{}, fmt.Errorf("auth: role lookup: %w", err)
	}

	sess, err := s.sessions.Create(ctx, user.ID, ip, userAgent)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: open session: %w", err)
	}

	raw, claims, err := s.tokens.Mint(user.ID, sess.ID, role)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Session: sess, Token: raw, Claims: claims}, nil
}

// Logout revokes the session named by a credential. An already dead or
// unknown session is not an error; logout is idempotent.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	err := s.sessions.Revoke(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return nil
}

// LogoutByCredential revokes the session a raw credential names. An
// unverifiable credential is a no-op; the cookie gets cleared either way.
func (s *Service) LogoutByCredential(ctx context.Context, raw string) error {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil
	}
	return s.Logout(ctx, claims.SessionID)
}

// Refresh re-issues a credential with a fresh expiry against the same
// session, provided the session is still live.
func (s *Service) Refresh(ctx context.Context, raw string) (string, *token.Claims, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if _, err := s.sessions.Live(ctx, claims.SessionID); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	return s.tokens.Refresh(claims)
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		// Burn a hash comparison anyway so unknown emails take as long as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0D1QvZJxvxPZ7y6kF0a9QK34W2e"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
