package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Filters narrows a feed query. Zero values mean "no constraint".
type Filters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Type     string
	Severity Severity
	Page     int
	PageSize int
}

// Store persists and reads audit events.
type Store interface {
	Insert(ctx context.Context, e Event) error
	Window(ctx context.Context, f Filters, offset, limit int) ([]Event, error)
}

// PGStore implements Store on PostgreSQL with jsonb metadata.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL-backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// Insert appends one event.
func (s *PGStore) Insert(ctx context.Context, e Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("audit: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, actor_id, event_type, severity, description, metadata, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Type, string(e.Severity), e.Description, meta, e.At.UTC())
	return err
}

// Window reads a filtered slice of the feed, newest first.
func (s *PGStore) Window(ctx context.Context, f Filters, offset, limit int) ([]Event, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("at <= $%d", f.To.UTC())
	}
	if f.Actor != "" {
		add("actor_id = $%d", f.Actor)
	}
	if f.Type != "" {
		add("event_type = $%d", f.Type)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	query := `SELECT id, actor_id, event_type, severity, description, metadata, at FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, offset, limit)
	query += fmt.Sprintf(" ORDER BY at DESC OFFSET $%d LIMIT $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e        Event
			severity string
			meta     []byte
			at       pgtype.Timestamptz
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Type, &severity, &e.Description, &meta, &at); err != nil {
			return nil, err
		}
		e.Severity = Severity(severity)
		if at.Valid {
			e.At = at.Time
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteBefore removes events older than the cutoff, for retention sweeps.
func (s *PGStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_events WHERE at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
