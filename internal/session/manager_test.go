package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qrdine/qrdine/internal/session"
	_ "github.com/qrdine/qrdine/testing"
)

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour)

	s, err := mgr.Create(ctx, "user-1", "203.0.113.7", "curl/8")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	require.Equal(t, "user-1", s.UserID)
	require.WithinDuration(t, s.IssuedAt.Add(time.Hour), s.ExpiresAt, time.Second)

	live, err := mgr.Live(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, live.ID)

	require.NoError(t, mgr.Revoke(ctx, s.ID))
	_, err = mgr.Live(ctx, s.ID)
	require.ErrorIs(t, err, session.ErrRevoked)
}

func TestManagerExpiry(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour).
		WithClock(func() time.Time { return current })

	s, err := mgr.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	current = current.Add(30 * time.Minute)
	_, err = mgr.Live(ctx, s.ID)
	require.NoError(t, err)

	current = current.Add(31 * time.Minute)
	_, err = mgr.Live(ctx, s.ID)
	require.ErrorIs(t, err, session.ErrExpired)
}

func TestManagerUnknownSession(t *testing.T) {
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour)
	_, err := mgr.Live(context.Background(), "nope")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestManagerActivityTouchThrottled(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour).
		WithClock(func() time.Time { return current })

	s, err := mgr.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	// Within the touch interval the activity timestamp stays put.
	current = current.Add(10 * time.Second)
	live, err := mgr.Live(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.LastActivity, live.LastActivity)

	current = current.Add(2 * time.Minute)
	live, err = mgr.Live(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, current, live.LastActivity)
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour)

	s1, err := mgr.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	s2, err := mgr.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	other, err := mgr.Create(ctx, "user-2", "", "")
	require.NoError(t, err)

	count, err := mgr.RevokeAllForUser(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	_, err = mgr.Live(ctx, s1.ID)
	require.ErrorIs(t, err, session.ErrRevoked)
	_, err = mgr.Live(ctx, s2.ID)
	require.ErrorIs(t, err, session.ErrRevoked)
	_, err = mgr.Live(ctx, other.ID)
	require.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr := session.NewManager(session.NewMemoryStore(), time.Hour).
		WithClock(func() time.Time { return current })

	s, err := mgr.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	count, err := mgr.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	_, err = mgr.Get(ctx, s.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}
