package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// touchInterval throttles activity updates so hot sessions do not write on
// every request.
const touchInterval = time.Minute

// Manager owns the session lifecycle: created at login, refreshed on
// legitimate activity, killed by logout, revocation or the expiry sweep.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager constructs a Manager with the given session lifetime.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create opens a new session for a login, recording the client fingerprint.
func (m *Manager) Create(ctx context.Context, userID, ip, userAgent string) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.ttl),
		LastActivity: now,
		IP:           ip,
		UserAgent:    userAgent,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return s, nil
}

// Get fetches a session without a liveness judgement.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// Live fetches a session and verifies it is alive: present, not revoked,
// not expired. On success the activity timestamp is refreshed, throttled to
// once per touchInterval.
func (m *Manager) Live(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	if s.RevokedAt != nil {
		return Session{}, ErrRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return Session{}, ErrExpired
	}
	if now.Sub(s.LastActivity) >= touchInterval {
		if err := m.store.UpdateActivity(ctx, id, now); err == nil {
			s.LastActivity = now
		}
	}
	return s, nil
}

// Revoke kills one session.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	return m.store.Revoke(ctx, id, m.now().UTC())
}

// RevokeAllForUser kills every live session of a user, returning the count.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return m.store.RevokeAllForUser(ctx, userID, m.now().UTC())
}

// SweepExpired deletes sessions past their expiry, bounding table growth.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}
