package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
	"github.com/qrdine/qrdine/internal/token"
	_ "github.com/qrdine/qrdine/testing"
)

const (
	testSecret       = "test-signing-secret"
	testLegacySecret = "old-signing-secret"
	testIssuer       = "qrdine"
)

func TestMintAndVerify(t *testing.T) {
	svc := token.NewService(testSecret, testIssuer, time.Hour)
	tenant := uuid.New()

	raw, minted, err := svc.Mint("user-1", "sess-1", token.RoleSnapshot{
		UserType:     rbac.UserTypeStaff,
		Template:     rbac.TemplateManager,
		RestaurantID: &tenant,
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", minted.UserID)

	claims, err := svc.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "sess-1", claims.SessionID)

	role := claims.Role()
	require.Equal(t, rbac.UserTypeStaff, role.UserType)
	require.Equal(t, rbac.TemplateManager, role.Template)
	require.NotNil(t, role.RestaurantID)
	require.Equal(t, tenant, *role.RestaurantID)
}

func TestVerifyRejectsTampering(t *testing.T) {
	svc := token.NewService(testSecret, testIssuer, time.Hour)
	other := token.NewService("different-secret", testIssuer, time.Hour)

	raw, _, err := other.Mint("user-1", "sess-1", token.RoleSnapshot{UserType: rbac.UserTypePlatformAdmin, Template: rbac.TemplatePlatformAdmin})
	require.NoError(t, err)

	_, err = svc.Verify(raw)
	require.ErrorIs(t, err, token.ErrInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := token.NewService(testSecret, testIssuer, time.Hour)
	_, err := svc.Verify("not-a-token")
	require.ErrorIs(t, err, token.ErrMalformed)
}

func TestVerifyExpired(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := token.NewService(testSecret, testIssuer, time.Hour).
		WithClock(func() time.Time { return current })

	raw, _, err := svc.Mint("user-1", "sess-1", token.RoleSnapshot{UserType: rbac.UserTypeStaff, Template: rbac.TemplateManager})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = svc.Verify(raw)
	require.ErrorIs(t, err, token.ErrExpired)
}

func TestRefreshKeepsSessionIdentity(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := token.NewService(testSecret, testIssuer, time.Hour).
		WithClock(func() time.Time { return current })

	_, claims, err := svc.Mint("user-1", "sess-1", token.RoleSnapshot{UserType: rbac.UserTypeStaff, Template: rbac.TemplateManager})
	require.NoError(t, err)

	current = current.Add(30 * time.Minute)
	raw, refreshed, err := svc.Refresh(claims)
	require.NoError(t, err)
	require.Equal(t, "sess-1", refreshed.SessionID)
	require.True(t, refreshed.ExpiresAt.After(claims.ExpiresAt.Time))

	verified, err := svc.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "sess-1", verified.SessionID)
}

func mintLegacy(t *testing.T, secret, userID string, expiry time.Time) string {
	t.Helper()
	claims := token.LegacyClaims{
		UserID:   userID,
		Email:    "user@example.com",
		UserType: "staff",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

type staticAssignments struct {
	assignment rbac.Assignment
	err        error
}

func (s staticAssignments) AssignmentForUser(ctx context.Context, userID string) (rbac.Assignment, error) {
	if s.err != nil {
		return rbac.Assignment{}, s.err
	}
	return s.assignment, nil
}

func TestUpgradeValidLegacyCredential(t *testing.T) {
	ctx := context.Background()
	tokens := token.NewService(testSecret, testIssuer, time.Hour)
	legacy := token.NewLegacyVerifier(testLegacySecret)
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	tenant := uuid.New()
	upgrader := token.NewUpgrader(legacy, tokens, sessions, staticAssignments{
		assignment: rbac.Assignment{
			UserID:       "user-1",
			UserType:     rbac.UserTypeStaff,
			TemplateName: rbac.TemplateServerStaff,
			RestaurantID: &tenant,
		},
	}, nil)

	raw := mintLegacy(t, testLegacySecret, "user-1", time.Now().Add(time.Hour))
	result, err := upgrader.Upgrade(ctx, raw, "203.0.113.7", "curl/8")
	require.NoError(t, err)
	require.Equal(t, token.StatusLegacyUpgraded, result.Status)
	require.NotEmpty(t, result.Refreshed)
	require.Equal(t, "user-1", result.Claims.UserID)

	// The replacement verifies under current rules and names a live session.
	claims, err := tokens.Verify(result.Refreshed)
	require.NoError(t, err)
	live, err := sessions.Live(ctx, claims.SessionID)
	require.NoError(t, err)
	require.Equal(t, "user-1", live.UserID)
}

func TestUpgradeRejectsBadLegacyCredential(t *testing.T) {
	tokens := token.NewService(testSecret, testIssuer, time.Hour)
	legacy := token.NewLegacyVerifier(testLegacySecret)
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	upgrader := token.NewUpgrader(legacy, tokens, sessions, staticAssignments{}, nil)

	// Wrong secret.
	raw := mintLegacy(t, "wrong-secret", "user-1", time.Now().Add(time.Hour))
	result, err := upgrader.Upgrade(context.Background(), raw, "", "")
	require.NoError(t, err)
	require.Equal(t, token.StatusInvalid, result.Status)

	// Expired.
	raw = mintLegacy(t, testLegacySecret, "user-1", time.Now().Add(-time.Hour))
	result, err = upgrader.Upgrade(context.Background(), raw, "", "")
	require.NoError(t, err)
	require.Equal(t, token.StatusInvalid, result.Status)
}

func TestUpgradeRequiresActiveAssignment(t *testing.T) {
	tokens := token.NewService(testSecret, testIssuer, time.Hour)
	legacy := token.NewLegacyVerifier(testLegacySecret)
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	upgrader := token.NewUpgrader(legacy, tokens, sessions, staticAssignments{err: rbac.ErrNotFound}, nil)

	raw := mintLegacy(t, testLegacySecret, "user-1", time.Now().Add(time.Hour))
	result, err := upgrader.Upgrade(context.Background(), raw, "", "")
	require.NoError(t, err)
	require.Equal(t, token.StatusInvalid, result.Status)
}
