package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/auth"
	"github.com/qrdine/qrdine/internal/authz"
	"github.com/qrdine/qrdine/internal/observability"
	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Guard          *authz.Guard
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	SessionHandler *session.Handler
	AuditHandler   *audit.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with platform defaults. Admin routes
// ride behind the guard with the catalog permissions the surface itself
// defines.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Middleware(authz.Protect()))
			params.AuthHandler.MountMe(r)
		})
	})

	view := params.Guard.Middleware(authz.RequirePermissions(rbac.PermRBACView))
	edit := params.Guard.Middleware(authz.RequirePermissions(rbac.PermRBACEdit))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/permissions", func(r chi.Router) {
			params.RBACHandler.MountPermissions(r, view, edit)
		})
		r.Route("/role-templates", func(r chi.Router) {
			params.RBACHandler.MountTemplates(r, view, edit)
		})
		r.Route("/assignments", func(r chi.Router) {
			params.RBACHandler.MountAssignments(r, edit)
		})
		r.With(view).Get("/users/{id}/permissions", params.RBACHandler.EffectivePermissionsHandler)
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Middleware(authz.RequirePermissions(rbac.PermSessionsRevoke)))
			r.Route("/sessions", params.SessionHandler.MountRoutes)
		})
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.Middleware(authz.RequirePermissions(rbac.PermAuditView)))
			r.Route("/audit", params.AuditHandler.MountRoutes)
		})
	})

	return r
}
