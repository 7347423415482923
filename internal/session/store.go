package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts session persistence so the manager is decoupled from
// storage topology. The production store is Postgres, shared by every
// instance; tests use the in-memory store.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL-backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// Create persists a new session row.
func (s *PGStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, issued_at, expires_at, last_activity, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.UserID,
		sess.IssuedAt.UTC(), sess.ExpiresAt.UTC(), sess.LastActivity.UTC(),
		pgtype.Text{String: sess.IP, Valid: sess.IP != ""},
		pgtype.Text{String: sess.UserAgent, Valid: sess.UserAgent != ""})
	return err
}

// Get fetches a session by ID.
func (s *PGStore) Get(ctx context.Context, id string) (Session, error) {
	var (
		sess      Session
		ip, ua    pgtype.Text
		revokedAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, issued_at, expires_at, last_activity, ip, user_agent, revoked_at
		FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.IssuedAt, &sess.ExpiresAt, &sess.LastActivity, &ip, &ua, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	sess.IP = ip.String
	sess.UserAgent = ua.String
	if revokedAt.Valid {
		at := revokedAt.Time
		sess.RevokedAt = &at
	}
	return sess, nil
}

// UpdateActivity records legitimate activity on the session.
func (s *PGStore) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke marks the session dead. Revoking twice is not an error.
func (s *PGStore) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser kills every live session of a user.
func (s *PGStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`, userID, at.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired reclaims rows whose expiry passed before the cutoff.
func (s *PGStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
