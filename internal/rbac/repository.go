package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrdine/qrdine/internal/platform/db"
)

// Repository defines persistence operations for the permission catalog,
// role templates and user role assignments.
type Repository interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, key string) (Permission, error)
	UpsertPermission(ctx context.Context, p Permission) (Permission, error)
	SetPermissionActive(ctx context.Context, key string, active bool) error
	FilterActiveKeys(ctx context.Context, keys []string) ([]string, error)
	FilterKnownKeys(ctx context.Context, keys []string) ([]string, error)

	ListTemplates(ctx context.Context) ([]RoleTemplate, error)
	GetTemplate(ctx context.Context, name string) (RoleTemplate, error)
	CreateTemplate(ctx context.Context, t RoleTemplate) (RoleTemplate, error)
	ReplaceTemplatePermissions(ctx context.Context, name string, keys []string) error
	DeleteTemplate(ctx context.Context, name string) error
	CountActiveAssignments(ctx context.Context, templateName string) (int64, error)
	TemplateHolders(ctx context.Context, templateName string) ([]string, error)

	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeactivateAssignment(ctx context.Context, id uuid.UUID) error
	GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error)
	GetActiveAssignment(ctx context.Context, userID string) (Assignment, error)
	ListAssignmentsByTemplate(ctx context.Context, templateName string) ([]Assignment, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// ListPermissions returns all catalog entries ordered by key.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, category, description, active, created_at FROM permissions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Key, &p.Category, &p.Description, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a single catalog entry.
func (r *PGRepository) GetPermission(ctx context.Context, key string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT key, category, description, active, created_at FROM permissions WHERE key = $1`, key).
		Scan(&p.Key, &p.Category, &p.Description, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// UpsertPermission inserts or updates a catalog entry. The key is the
// identity; category and description may change, the key never does.
func (r *PGRepository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (key, category, description, active, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key) DO UPDATE SET category = $2, description = $3, active = $4
		RETURNING key, category, description, active, created_at`,
		p.Key, p.Category, p.Description, p.Active).
		Scan(&p.Key, &p.Category, &p.Description, &p.Active, &p.CreatedAt)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// SetPermissionActive toggles the active flag of a catalog entry.
func (r *PGRepository) SetPermissionActive(ctx context.Context, key string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET active = $2 WHERE key = $1`, key, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FilterActiveKeys returns the subset of keys that exist and are active.
func (r *PGRepository) FilterActiveKeys(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT key FROM permissions WHERE active AND key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var active []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		active = append(active, key)
	}
	return active, rows.Err()
}

// FilterKnownKeys returns the subset of keys present in the catalog,
// regardless of their active flag.
func (r *PGRepository) FilterKnownKeys(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT key FROM permissions WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var known []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		known = append(known, key)
	}
	return known, rows.Err()
}

// ListTemplates returns all role templates with their permission sets.
func (r *PGRepository) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, built_in, active, created_at, updated_at FROM role_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var templates []RoleTemplate
	for rows.Next() {
		var t RoleTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.BuiltIn, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range templates {
		keys, err := r.templateKeys(ctx, templates[i].Name)
		if err != nil {
			return nil, err
		}
		templates[i].PermissionKeys = keys
	}
	return templates, nil
}

// GetTemplate fetches a template by name including its permission keys.
func (r *PGRepository) GetTemplate(ctx context.Context, name string) (RoleTemplate, error) {
	var t RoleTemplate
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, built_in, active, created_at, updated_at FROM role_templates WHERE name = $1`, name).
		Scan(&t.ID, &t.Name, &t.Description, &t.BuiltIn, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleTemplate{}, ErrNotFound
		}
		return RoleTemplate{}, err
	}
	keys, err := r.templateKeys(ctx, name)
	if err != nil {
		return RoleTemplate{}, err
	}
	t.PermissionKeys = keys
	return t, nil
}

func (r *PGRepository) templateKeys(ctx context.Context, name string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_key FROM role_template_permissions WHERE template_name = $1 ORDER BY permission_key`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// CreateTemplate inserts a template and its permission set atomically.
func (r *PGRepository) CreateTemplate(ctx context.Context, t RoleTemplate) (RoleTemplate, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO role_templates (name, description, built_in, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			t.Name, t.Description, t.BuiltIn, t.Active).
			Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
		for _, key := range t.PermissionKeys {
			if _, err := tx.Exec(ctx, `INSERT INTO role_template_permissions (template_name, permission_key) VALUES ($1, $2)`, t.Name, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return RoleTemplate{}, ErrDuplicateTemplate
		}
		return RoleTemplate{}, err
	}
	return t, nil
}

// ReplaceTemplatePermissions swaps a template's permission set in one
// transaction so readers never observe a partial set.
func (r *PGRepository) ReplaceTemplatePermissions(ctx context.Context, name string, keys []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE role_templates SET updated_at = NOW() WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_template_permissions WHERE template_name = $1`, name); err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Exec(ctx, `INSERT INTO role_template_permissions (template_name, permission_key) VALUES ($1, $2)`, name, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteTemplate removes a template and its permission associations.
func (r *PGRepository) DeleteTemplate(ctx context.Context, name string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_template_permissions WHERE template_name = $1`, name); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM role_templates WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CountActiveAssignments counts active assignments referencing a template.
func (r *PGRepository) CountActiveAssignments(ctx context.Context, templateName string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_role_assignments WHERE template_name = $1 AND active`, templateName).Scan(&count)
	return count, err
}

// TemplateHolders returns the user IDs with an active assignment of the template.
func (r *PGRepository) TemplateHolders(ctx context.Context, templateName string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_role_assignments WHERE template_name = $1 AND active`, templateName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CreateAssignment persists a new user role assignment.
func (r *PGRepository) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	restaurant := pgtype.UUID{}
	if a.RestaurantID != nil {
		restaurant = pgtype.UUID{Bytes: *a.RestaurantID, Valid: true}
	}
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_role_assignments (id, user_id, user_type, template_name, restaurant_id, custom_permissions, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		a.ID, a.UserID, string(a.UserType), a.TemplateName, restaurant, a.CustomPermissions, a.Active, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Assignment{}, ErrDuplicateAssignment
		}
		return Assignment{}, err
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return a, nil
}

// DeactivateAssignment marks an assignment inactive, keeping history.
func (r *PGRepository) DeactivateAssignment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_role_assignments SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAssignment fetches an assignment by ID.
func (r *PGRepository) GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, user_type, template_name, restaurant_id, custom_permissions, active, created_at, updated_at
		FROM user_role_assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// GetActiveAssignment fetches the active assignment of a user.
func (r *PGRepository) GetActiveAssignment(ctx context.Context, userID string) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, user_type, template_name, restaurant_id, custom_permissions, active, created_at, updated_at
		FROM user_role_assignments WHERE user_id = $1 AND active`, userID)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNotFound
		}
		return Assignment{}, err
	}
	return a, nil
}

// ListAssignmentsByTemplate returns the active assignments holding a template.
func (r *PGRepository) ListAssignmentsByTemplate(ctx context.Context, templateName string) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, user_type, template_name, restaurant_id, custom_permissions, active, created_at, updated_at
		FROM user_role_assignments WHERE template_name = $1 AND active ORDER BY created_at`, templateName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a          Assignment
		userType   string
		restaurant pgtype.UUID
	)
	if err := row.Scan(&a.ID, &a.UserID, &userType, &a.TemplateName, &restaurant, &a.CustomPermissions, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Assignment{}, err
	}
	a.UserType = UserType(userType)
	if restaurant.Valid {
		id := uuid.UUID(restaurant.Bytes)
		a.RestaurantID = &id
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
