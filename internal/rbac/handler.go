package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/qrdine/qrdine/internal/platform/httpx"
)

// Handler exposes catalog, template and assignment administration over JSON.
// Route protection is applied by the router, not here.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// Middleware wraps a route subtree, typically with an authorization guard.
type Middleware = func(http.Handler) http.Handler

// MountPermissions registers permission catalog routes. Reads go behind
// view, mutations behind edit.
func (h *Handler) MountPermissions(r chi.Router, view, edit Middleware) {
	r.With(view).Get("/", h.listPermissions)
	r.With(edit).Post("/", h.upsertPermission)
	r.With(edit).Patch("/{key}", h.setPermissionActive)
}

// MountTemplates registers role template routes.
func (h *Handler) MountTemplates(r chi.Router, view, edit Middleware) {
	r.With(view).Get("/", h.listTemplates)
	r.With(view).Get("/{name}", h.getTemplate)
	r.With(view).Get("/{name}/holders", h.templateHolders)
	r.With(edit).Post("/", h.createTemplate)
	r.With(edit).Put("/{name}/permissions", h.replaceTemplatePermissions)
	r.With(edit).Delete("/{name}", h.deleteTemplate)
}

// MountAssignments registers assignment routes. Both operations mutate.
func (h *Handler) MountAssignments(r chi.Router, edit Middleware) {
	r.With(edit).Post("/", h.createAssignment)
	r.With(edit).Delete("/{id}", h.removeAssignment)
}

type permissionRequest struct {
	Key         string `json:"key" validate:"required"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

type permissionResponse struct {
	Key         string    `json:"key"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) upsertPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p, err := h.service.UpsertPermission(r.Context(), Permission{
		Key:         req.Key,
		Category:    req.Category,
		Description: req.Description,
		Active:      active,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionResponse(p))
}

func (h *Handler) setPermissionActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Active == nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "body must carry an active flag")
		return
	}
	if err := h.service.SetPermissionActive(r.Context(), chi.URLParam(r, "key"), *req.Active); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateRequest struct {
	Name        string   `json:"name" validate:"required,min=2"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type templateResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	BuiltIn     bool     `json:"built_in"`
	Active      bool     `json:"active"`
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTemplateResponse(t))
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	t, err := h.service.CreateTemplate(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTemplateResponse(t))
}

func (h *Handler) replaceTemplatePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.ReplaceTemplatePermissions(r.Context(), chi.URLParam(r, "name"), req.Permissions); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTemplate(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	UserID            string     `json:"user_id"`
	UserType          UserType   `json:"user_type"`
	Template          string     `json:"template"`
	RestaurantID      *uuid.UUID `json:"restaurant_id,omitempty"`
	CustomPermissions []string   `json:"custom_permissions,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (h *Handler) templateHolders(w http.ResponseWriter, r *http.Request) {
	holders, err := h.service.TemplateHolders(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(holders))
	for _, a := range holders {
		out = append(out, toAssignmentResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type assignmentRequest struct {
	UserID            string   `json:"user_id" validate:"required"`
	UserType          string   `json:"user_type" validate:"required,oneof=platform_admin restaurant_owner staff"`
	Template          string   `json:"template" validate:"required"`
	RestaurantID      *string  `json:"restaurant_id" validate:"omitempty,uuid"`
	CustomPermissions []string `json:"custom_permissions"`
}

func (h *Handler) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	assignment := Assignment{
		UserID:            req.UserID,
		UserType:          UserType(req.UserType),
		TemplateName:      req.Template,
		CustomPermissions: req.CustomPermissions,
	}
	if req.RestaurantID != nil {
		id, err := uuid.Parse(*req.RestaurantID)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "restaurant_id must be a UUID")
			return
		}
		assignment.RestaurantID = &id
	}
	created, err := h.service.CreateAssignment(r.Context(), assignment)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssignmentResponse(created))
}

func (h *Handler) removeAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "assignment id must be a UUID")
		return
	}
	if err := h.service.RemoveAssignment(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EffectivePermissionsHandler serves a user's computed permission set.
func (h *Handler) EffectivePermissionsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	perms, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": perms,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var unknown *UnknownPermissionsError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &unknown):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unknown Permissions", unknown.Error())
	case errors.Is(err, ErrTenantScope):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Tenant Scope", err.Error())
	case errors.Is(err, ErrBuiltInTemplate), errors.Is(err, ErrTemplateInUse),
		errors.Is(err, ErrDuplicateTemplate), errors.Is(err, ErrDuplicateAssignment):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toPermissionResponse(p Permission) permissionResponse {
	return permissionResponse{
		Key:         p.Key,
		Category:    p.Category,
		Description: p.Description,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
	}
}

func toTemplateResponse(t RoleTemplate) templateResponse {
	return templateResponse{
		Name:        t.Name,
		Description: t.Description,
		Permissions: t.PermissionKeys,
		BuiltIn:     t.BuiltIn,
		Active:      t.Active,
	}
}

func toAssignmentResponse(a Assignment) assignmentResponse {
	return assignmentResponse{
		ID:                a.ID,
		UserID:            a.UserID,
		UserType:          a.UserType,
		Template:          a.TemplateName,
		RestaurantID:      a.RestaurantID,
		CustomPermissions: a.CustomPermissions,
		CreatedAt:         a.CreatedAt,
	}
}
