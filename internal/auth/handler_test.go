package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qrdine/qrdine/internal/authz"
	"github.com/qrdine/qrdine/internal/platform/httpx"
	"github.com/qrdine/qrdine/internal/ratelimit"
	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
	"github.com/qrdine/qrdine/internal/token"
	_ "github.com/qrdine/qrdine/testing"
)

type stubUsers struct {
	byEmail map[string]*User
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, httpx.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) FindByID(ctx context.Context, id string) (*User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, httpx.ErrNotFound
}

type stubRoles struct {
	byUser map[string]rbac.Assignment
}

func (s *stubRoles) AssignmentForUser(ctx context.Context, userID string) (rbac.Assignment, error) {
	a, ok := s.byUser[userID]
	if !ok {
		return rbac.Assignment{}, rbac.ErrNotFound
	}
	return a, nil
}

type loginFixture struct {
	handler  *Handler
	service  *Service
	sessions *session.Manager
	tokens   *token.Service
	users    *stubUsers
	roles    *stubRoles
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &stubUsers{byEmail: map[string]*User{
		"owner@example.com": {
			ID: "user-1", Email: "owner@example.com", PasswordHash: string(hash),
			UserType: rbac.UserTypeRestaurantOwner, Active: true,
		},
		"disabled@example.com": {
			ID: "user-2", Email: "disabled@example.com", PasswordHash: string(hash),
			UserType: rbac.UserTypeStaff, Active: false,
		},
	}}
	roles := &stubRoles{byUser: map[string]rbac.Assignment{
		"user-1": {
			UserID: "user-1", UserType: rbac.UserTypeRestaurantOwner,
			TemplateName: rbac.TemplateRestaurantOwner, Active: true,
		},
	}}
	tokens := token.NewService("test-secret", "qrdine", time.Hour)
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	service := NewService(users, sessions, tokens, roles)
	handler := NewHandler(nil, service, ratelimit.NewMemoryLimiter(), nil)
	return &loginFixture{handler: handler, service: service, sessions: sessions, tokens: tokens, users: users, roles: roles}
}

func postJSON(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "10.0.0.1:40000"
	return r
}

func credentialCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == authz.CookieName {
			return c
		}
	}
	return nil
}

func TestLoginSuccess(t *testing.T) {
	f := newLoginFixture(t)

	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"owner@example.com","password":"correct-horse"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, string(rbac.UserTypeRestaurantOwner), resp.UserType)
	assert.Equal(t, rbac.TemplateRestaurantOwner, resp.RoleTemplate)

	cookie := credentialCookie(t, w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	claims, err := f.tokens.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	_, err = f.sessions.Live(context.Background(), claims.SessionID)
	require.NoError(t, err)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newLoginFixture(t)

	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"owner@example.com","password":"wrong-password"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, credentialCookie(t, w))
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newLoginFixture(t)

	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"disabled@example.com","password":"correct-horse"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginValidation(t *testing.T) {
	f := newLoginFixture(t)

	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"not-an-email","password":"x"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLoginThrottled(t *testing.T) {
	f := newLoginFixture(t)
	f.handler.loginLimit = ratelimit.Limit{Requests: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"owner@example.com","password":"wrong-password"}`))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"owner@example.com","password":"wrong-password"}`))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLoginWithoutAssignment(t *testing.T) {
	f := newLoginFixture(t)
	delete(f.roles.byUser, "user-1")

	w := httptest.NewRecorder()
	f.handler.handleLogin(w, postJSON("/auth/login", `{"email":"owner@example.com","password":"correct-horse"}`))
	require.Equal(t, http.StatusOK, w.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.RoleTemplate)
}

func TestRefresh(t *testing.T) {
	f := newLoginFixture(t)
	result, err := f.service.Login(context.Background(), "owner@example.com", "correct-horse", "10.0.0.1", "test-agent")
	require.NoError(t, err)

	r := postJSON("/auth/refresh", "")
	r.AddCookie(&http.Cookie{Name: authz.CookieName, Value: result.Token})
	w := httptest.NewRecorder()
	f.handler.handleRefresh(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	cookie := credentialCookie(t, w)
	require.NotNil(t, cookie)
	claims, err := f.tokens.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, claims.SessionID)
}

func TestRefreshDeadSession(t *testing.T) {
	f := newLoginFixture(t)
	result, err := f.service.Login(context.Background(), "owner@example.com", "correct-horse", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Revoke(context.Background(), result.Session.ID))

	r := postJSON("/auth/refresh", "")
	r.AddCookie(&http.Cookie{Name: authz.CookieName, Value: result.Token})
	w := httptest.NewRecorder()
	f.handler.handleRefresh(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newLoginFixture(t)
	result, err := f.service.Login(context.Background(), "owner@example.com", "correct-horse", "10.0.0.1", "test-agent")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(context.Background(), result.Session.ID))
	_, err = f.sessions.Live(context.Background(), result.Session.ID)
	assert.ErrorIs(t, err, session.ErrRevoked)

	// Idempotent: a second logout of the same session succeeds.
	require.NoError(t, f.service.Logout(context.Background(), result.Session.ID))
}

func TestLogoutByCredentialCookie(t *testing.T) {
	f := newLoginFixture(t)
	result, err := f.service.Login(context.Background(), "owner@example.com", "correct-horse", "10.0.0.1", "test-agent")
	require.NoError(t, err)

	r := postJSON("/auth/logout", "")
	r.AddCookie(&http.Cookie{Name: authz.CookieName, Value: result.Token})
	w := httptest.NewRecorder()
	f.handler.handleLogout(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = f.sessions.Live(context.Background(), result.Session.ID)
	assert.ErrorIs(t, err, session.ErrRevoked)

	cookie := credentialCookie(t, w)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
}
