package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qrdine/qrdine/internal/rbac"
	_ "github.com/qrdine/qrdine/testing"
)

type stubRepo struct {
	perms       map[string]rbac.Permission
	templates   map[string]rbac.RoleTemplate
	assignments map[uuid.UUID]rbac.Assignment
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		perms:       make(map[string]rbac.Permission),
		templates:   make(map[string]rbac.RoleTemplate),
		assignments: make(map[uuid.UUID]rbac.Assignment),
	}
}

func (s *stubRepo) addPermission(key string, active bool) {
	s.perms[key] = rbac.Permission{Key: key, Category: "test", Active: active, CreatedAt: time.Now()}
}

func (s *stubRepo) addTemplate(name string, builtIn bool, keys ...string) {
	s.templates[name] = rbac.RoleTemplate{Name: name, PermissionKeys: keys, BuiltIn: builtIn, Active: true}
}

func (s *stubRepo) addAssignment(a rbac.Assignment) uuid.UUID {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Active = true
	s.assignments[a.ID] = a
	return a.ID
}

func (s *stubRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) GetPermission(ctx context.Context, key string) (rbac.Permission, error) {
	p, ok := s.perms[key]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return p, nil
}

func (s *stubRepo) UpsertPermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	s.perms[p.Key] = p
	return p, nil
}

func (s *stubRepo) SetPermissionActive(ctx context.Context, key string, active bool) error {
	p, ok := s.perms[key]
	if !ok {
		return rbac.ErrNotFound
	}
	p.Active = active
	s.perms[key] = p
	return nil
}

func (s *stubRepo) FilterActiveKeys(ctx context.Context, keys []string) ([]string, error) {
	var out []string
	for _, key := range keys {
		if p, ok := s.perms[key]; ok && p.Active {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *stubRepo) FilterKnownKeys(ctx context.Context, keys []string) ([]string, error) {
	var out []string
	for _, key := range keys {
		if _, ok := s.perms[key]; ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *stubRepo) ListTemplates(ctx context.Context) ([]rbac.RoleTemplate, error) {
	var out []rbac.RoleTemplate
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out, nil
}

func (s *stubRepo) GetTemplate(ctx context.Context, name string) (rbac.RoleTemplate, error) {
	t, ok := s.templates[name]
	if !ok {
		return rbac.RoleTemplate{}, rbac.ErrNotFound
	}
	return t, nil
}

func (s *stubRepo) CreateTemplate(ctx context.Context, t rbac.RoleTemplate) (rbac.RoleTemplate, error) {
	if _, ok := s.templates[t.Name]; ok {
		return rbac.RoleTemplate{}, rbac.ErrDuplicateTemplate
	}
	s.templates[t.Name] = t
	return t, nil
}

func (s *stubRepo) ReplaceTemplatePermissions(ctx context.Context, name string, keys []string) error {
	t, ok := s.templates[name]
	if !ok {
		return rbac.ErrNotFound
	}
	t.PermissionKeys = keys
	s.templates[name] = t
	return nil
}

func (s *stubRepo) DeleteTemplate(ctx context.Context, name string) error {
	if _, ok := s.templates[name]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.templates, name)
	return nil
}

func (s *stubRepo) CountActiveAssignments(ctx context.Context, templateName string) (int64, error) {
	var count int64
	for _, a := range s.assignments {
		if a.TemplateName == templateName && a.Active {
			count++
		}
	}
	return count, nil
}

func (s *stubRepo) TemplateHolders(ctx context.Context, templateName string) ([]string, error) {
	var out []string
	for _, a := range s.assignments {
		if a.TemplateName == templateName && a.Active {
			out = append(out, a.UserID)
		}
	}
	return out, nil
}

func (s *stubRepo) CreateAssignment(ctx context.Context, a rbac.Assignment) (rbac.Assignment, error) {
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.Active {
			return rbac.Assignment{}, rbac.ErrDuplicateAssignment
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.assignments[a.ID] = a
	return a, nil
}

func (s *stubRepo) DeactivateAssignment(ctx context.Context, id uuid.UUID) error {
	a, ok := s.assignments[id]
	if !ok {
		return rbac.ErrNotFound
	}
	a.Active = false
	s.assignments[id] = a
	return nil
}

func (s *stubRepo) GetAssignment(ctx context.Context, id uuid.UUID) (rbac.Assignment, error) {
	a, ok := s.assignments[id]
	if !ok {
		return rbac.Assignment{}, rbac.ErrNotFound
	}
	return a, nil
}

func (s *stubRepo) GetActiveAssignment(ctx context.Context, userID string) (rbac.Assignment, error) {
	for _, a := range s.assignments {
		if a.UserID == userID && a.Active {
			return a, nil
		}
	}
	return rbac.Assignment{}, rbac.ErrNotFound
}

func (s *stubRepo) ListAssignmentsByTemplate(ctx context.Context, templateName string) ([]rbac.Assignment, error) {
	var out []rbac.Assignment
	for _, a := range s.assignments {
		if a.TemplateName == templateName && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ rbac.Repository = (*stubRepo)(nil)

func newService(repo rbac.Repository) *rbac.Service {
	return rbac.NewService(repo, rbac.NewCache(64, time.Minute, nil, nil), nil)
}

func TestEffectivePermissionsUnion(t *testing.T) {
	repo := newStubRepo()
	repo.addPermission("orders:read", true)
	repo.addPermission("orders:write", true)
	repo.addPermission("menu:edit", false) // deactivated, must be excluded
	repo.addPermission("staff:schedule", true)
	repo.addTemplate(rbac.TemplateManager, true, "orders:read", "orders:write", "menu:edit")
	repo.addAssignment(rbac.Assignment{
		UserID:            "user-1",
		UserType:          rbac.UserTypeStaff,
		TemplateName:      rbac.TemplateManager,
		CustomPermissions: []string{"staff:schedule"},
	})

	svc := newService(repo)
	perms, err := svc.EffectivePermissions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"orders:read", "orders:write", "staff:schedule"}, perms)
}

func TestEffectivePermissionsNoAssignment(t *testing.T) {
	svc := newService(newStubRepo())
	_, err := svc.EffectivePermissions(context.Background(), "ghost")
	require.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestEffectivePermissionsCacheInvalidation(t *testing.T) {
	repo := newStubRepo()
	repo.addPermission("orders:read", true)
	repo.addPermission("orders:write", true)
	repo.addTemplate(rbac.TemplateManager, true, "orders:read")
	repo.addAssignment(rbac.Assignment{
		UserID:       "user-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: rbac.TemplateManager,
	})

	svc := newService(repo)
	ctx := context.Background()

	perms, err := svc.EffectivePermissions(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"orders:read"}, perms)

	// The cached entry keeps serving until the template change goes through
	// the service, which evicts every holder.
	require.NoError(t, svc.ReplaceTemplatePermissions(ctx, rbac.TemplateManager, []string{"orders:read", "orders:write"}))

	perms, err = svc.EffectivePermissions(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"orders:read", "orders:write"}, perms)
}

func TestPermissionDeactivationNarrowsEffectiveSet(t *testing.T) {
	repo := newStubRepo()
	repo.addPermission("orders:read", true)
	repo.addPermission("orders:write", true)
	repo.addTemplate(rbac.TemplateManager, true, "orders:read", "orders:write")
	repo.addAssignment(rbac.Assignment{
		UserID:       "user-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: rbac.TemplateManager,
	})

	svc := newService(repo)
	ctx := context.Background()

	perms, err := svc.EffectivePermissions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, perms, 2)

	require.NoError(t, svc.SetPermissionActive(ctx, "orders:write", false))

	perms, err = svc.EffectivePermissions(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"orders:read"}, perms)
}

func TestCreateTemplateUnknownKeys(t *testing.T) {
	repo := newStubRepo()
	repo.addPermission("orders:read", true)
	repo.addPermission("menu:edit", false)

	svc := newService(repo)
	_, err := svc.CreateTemplate(context.Background(), "host", "", []string{"orders:read", "menu:edit", "nope:nothing"})
	var unknown *rbac.UnknownPermissionsError
	require.ErrorAs(t, err, &unknown)
	require.ElementsMatch(t, []string{"menu:edit", "nope:nothing"}, unknown.Keys)
}

func TestDeleteTemplateRules(t *testing.T) {
	repo := newStubRepo()
	repo.addTemplate(rbac.TemplateManager, true)
	repo.addTemplate("host", false)
	repo.addTemplate("runner", false)
	tenant := uuid.New()
	repo.addAssignment(rbac.Assignment{
		UserID:       "user-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: "host",
		RestaurantID: &tenant,
	})

	svc := newService(repo)
	ctx := context.Background()

	require.ErrorIs(t, svc.DeleteTemplate(ctx, rbac.TemplateManager), rbac.ErrBuiltInTemplate)
	require.ErrorIs(t, svc.DeleteTemplate(ctx, "host"), rbac.ErrTemplateInUse)
	require.NoError(t, svc.DeleteTemplate(ctx, "runner"))
}

func TestAssignmentTenantInvariants(t *testing.T) {
	repo := newStubRepo()
	repo.addTemplate(rbac.TemplatePlatformAdmin, true)
	repo.addTemplate(rbac.TemplateServerStaff, true)

	svc := newService(repo)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := svc.CreateAssignment(ctx, rbac.Assignment{
		UserID:       "admin-1",
		UserType:     rbac.UserTypePlatformAdmin,
		TemplateName: rbac.TemplatePlatformAdmin,
		RestaurantID: &tenant,
	})
	require.ErrorIs(t, err, rbac.ErrTenantScope)

	_, err = svc.CreateAssignment(ctx, rbac.Assignment{
		UserID:       "staff-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: rbac.TemplateServerStaff,
	})
	require.ErrorIs(t, err, rbac.ErrTenantScope)

	created, err := svc.CreateAssignment(ctx, rbac.Assignment{
		UserID:       "staff-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: rbac.TemplateServerStaff,
		RestaurantID: &tenant,
	})
	require.NoError(t, err)
	require.NotNil(t, created.RestaurantID)
	require.Equal(t, tenant, *created.RestaurantID)
}

func TestRemoveAssignmentEvictsCache(t *testing.T) {
	repo := newStubRepo()
	repo.addPermission("orders:read", true)
	repo.addTemplate(rbac.TemplateManager, true, "orders:read")
	id := repo.addAssignment(rbac.Assignment{
		UserID:       "user-1",
		UserType:     rbac.UserTypeStaff,
		TemplateName: rbac.TemplateManager,
	})

	svc := newService(repo)
	ctx := context.Background()

	perms, err := svc.EffectivePermissions(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, perms)

	require.NoError(t, svc.RemoveAssignment(ctx, id))

	_, err = svc.EffectivePermissions(ctx, "user-1")
	require.ErrorIs(t, err, rbac.ErrNotFound)
}
