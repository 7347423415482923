package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Service orchestrates catalog administration and effective permission
// computation. All writes that change what a user may do end with a cache
// eviction so stale grants do not outlive the change.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs a Service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// ListPermissions returns the full catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// UpsertPermission registers or updates a catalog entry.
func (s *Service) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	p.Key = strings.TrimSpace(strings.ToLower(p.Key))
	if p.Key == "" {
		return Permission{}, errors.New("rbac: permission key required")
	}
	return s.repo.UpsertPermission(ctx, p)
}

// SetPermissionActive toggles an entry. Deactivation narrows every effective
// set that referenced the key, so all cached computations are purged.
func (s *Service) SetPermissionActive(ctx context.Context, key string, active bool) error {
	if err := s.repo.SetPermissionActive(ctx, key, active); err != nil {
		return err
	}
	s.cache.EvictAll(ctx)
	return nil
}

// ListTemplates returns every role template.
func (s *Service) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	return s.repo.ListTemplates(ctx)
}

// GetTemplate fetches a template by name.
func (s *Service) GetTemplate(ctx context.Context, name string) (RoleTemplate, error) {
	return s.repo.GetTemplate(ctx, normalizeName(name))
}

// CreateTemplate validates the referenced permission keys and inserts the
// template with its baseline set atomically.
func (s *Service) CreateTemplate(ctx context.Context, name, description string, keys []string) (RoleTemplate, error) {
	name = normalizeName(name)
	if name == "" {
		return RoleTemplate{}, errors.New("rbac: template name required")
	}
	keys = normalizeKeys(keys)
	if err := s.requireActiveKeys(ctx, keys); err != nil {
		return RoleTemplate{}, err
	}
	return s.repo.CreateTemplate(ctx, RoleTemplate{
		Name:           name,
		Description:    strings.TrimSpace(description),
		PermissionKeys: keys,
		Active:         true,
	})
}

// ReplaceTemplatePermissions swaps a template's permission set. Every holder
// of the template is evicted from the permission cache afterwards.
func (s *Service) ReplaceTemplatePermissions(ctx context.Context, name string, keys []string) error {
	name = normalizeName(name)
	keys = normalizeKeys(keys)
	if err := s.requireActiveKeys(ctx, keys); err != nil {
		return err
	}
	if err := s.repo.ReplaceTemplatePermissions(ctx, name, keys); err != nil {
		return err
	}
	s.invalidateTemplate(ctx, name)
	return nil
}

// DeleteTemplate removes a custom template. Built-in templates and templates
// still held by an active assignment are refused.
func (s *Service) DeleteTemplate(ctx context.Context, name string) error {
	name = normalizeName(name)
	t, err := s.repo.GetTemplate(ctx, name)
	if err != nil {
		return err
	}
	if t.BuiltIn || slices.Contains(BuiltInTemplates(), t.Name) {
		return ErrBuiltInTemplate
	}
	count, err := s.repo.CountActiveAssignments(ctx, name)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d active", ErrTemplateInUse, count)
	}
	return s.repo.DeleteTemplate(ctx, name)
}

// CreateAssignment grants a user a role template within a tenant scope.
// A platform_admin assignment must be unscoped; a staff assignment must be
// scoped to exactly one restaurant.
func (s *Service) CreateAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	if a.UserID == "" {
		return Assignment{}, errors.New("rbac: user id required")
	}
	if !a.UserType.Valid() {
		return Assignment{}, fmt.Errorf("rbac: unknown user type %q", a.UserType)
	}
	switch a.UserType {
	case UserTypePlatformAdmin:
		if a.RestaurantID != nil {
			return Assignment{}, fmt.Errorf("%w: platform_admin must not be tenant scoped", ErrTenantScope)
		}
	case UserTypeStaff:
		if a.RestaurantID == nil {
			return Assignment{}, fmt.Errorf("%w: staff requires a restaurant scope", ErrTenantScope)
		}
	}
	a.TemplateName = normalizeName(a.TemplateName)
	if _, err := s.repo.GetTemplate(ctx, a.TemplateName); err != nil {
		return Assignment{}, err
	}
	a.CustomPermissions = normalizeKeys(a.CustomPermissions)
	if err := s.requireKnownKeys(ctx, a.CustomPermissions); err != nil {
		return Assignment{}, err
	}
	a.Active = true
	created, err := s.repo.CreateAssignment(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	s.cache.Evict(ctx, created.UserID)
	return created, nil
}

// RemoveAssignment deactivates an assignment and drops the user's cached
// permission set.
func (s *Service) RemoveAssignment(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeactivateAssignment(ctx, id); err != nil {
		return err
	}
	s.cache.Evict(ctx, a.UserID)
	return nil
}

// AssignmentForUser returns the user's active assignment.
func (s *Service) AssignmentForUser(ctx context.Context, userID string) (Assignment, error) {
	return s.repo.GetActiveAssignment(ctx, userID)
}

// TemplateHolders returns active assignments holding a template.
func (s *Service) TemplateHolders(ctx context.Context, name string) ([]Assignment, error) {
	return s.repo.ListAssignmentsByTemplate(ctx, normalizeName(name))
}

// EffectivePermissions computes active(template baseline ∪ custom grants) for
// a user, serving from cache when possible. Concurrent misses for the same
// user are collapsed to a single recomputation.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	if perms, ok := s.cache.Get(userID); ok {
		return perms, nil
	}
	v, err, _ := s.group.Do(userID, func() (any, error) {
		perms, err := s.computePermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.cache.Put(userID, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *Service) computePermissions(ctx context.Context, userID string) ([]string, error) {
	assignment, err := s.repo.GetActiveAssignment(ctx, userID)
	if err != nil {
		return nil, err
	}
	union := make(map[string]struct{})
	template, err := s.repo.GetTemplate(ctx, assignment.TemplateName)
	switch {
	case err == nil:
		if template.Active {
			for _, key := range template.PermissionKeys {
				union[key] = struct{}{}
			}
		}
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("assignment references missing template",
			slog.String("user", userID), slog.String("template", assignment.TemplateName))
	default:
		return nil, err
	}
	for _, key := range assignment.CustomPermissions {
		union[key] = struct{}{}
	}
	keys := make([]string, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	// Inactive keys are excluded silently, never reported as errors.
	active, err := s.repo.FilterActiveKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	slices.Sort(active)
	return active, nil
}

// InvalidateUser drops a user's cached permission set on all instances.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	s.cache.Evict(ctx, userID)
}

func (s *Service) invalidateTemplate(ctx context.Context, name string) {
	holders, err := s.repo.TemplateHolders(ctx, name)
	if err != nil {
		// Fall back to a full purge rather than serving stale grants.
		s.logger.Warn("rbac template holders lookup failed, purging cache",
			slog.String("template", name), slog.Any("error", err))
		s.cache.EvictAll(ctx)
		return
	}
	for _, userID := range holders {
		s.cache.Evict(ctx, userID)
	}
}

func (s *Service) requireActiveKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	active, err := s.repo.FilterActiveKeys(ctx, keys)
	if err != nil {
		return err
	}
	return missingKeys(keys, active)
}

func (s *Service) requireKnownKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	known, err := s.repo.FilterKnownKeys(ctx, keys)
	if err != nil {
		return err
	}
	return missingKeys(keys, known)
}

func missingKeys(requested, found []string) error {
	have := make(map[string]struct{}, len(found))
	for _, key := range found {
		have[key] = struct{}{}
	}
	var missing []string
	for _, key := range requested {
		if _, ok := have[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &UnknownPermissionsError{Keys: missing}
	}
	return nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func normalizeKeys(keys []string) []string {
	unique := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(strings.ToLower(key))
		if key == "" {
			continue
		}
		unique[key] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for key := range unique {
		normalized = append(normalized, key)
	}
	slices.Sort(normalized)
	return normalized
}
