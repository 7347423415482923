package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/authz"
	"github.com/qrdine/qrdine/internal/platform/httpx"
	"github.com/qrdine/qrdine/internal/ratelimit"
)

// LoginLimit is the default per-IP throttle on login attempts.
var LoginLimit = ratelimit.Limit{Requests: 10, Window: 15 * time.Minute}

// Handler wires the JSON endpoints for authentication flows.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	limiter       ratelimit.Limiter
	recorder      *audit.Recorder
	validator     *validator.Validate
	loginLimit    ratelimit.Limit
	secureCookies bool
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, limiter ratelimit.Limiter, recorder *audit.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		limiter:    limiter,
		recorder:   recorder,
		validator:  validator.New(),
		loginLimit: LoginLimit,
	}
}

// WithSecureCookies marks issued cookies as Secure.
func (h *Handler) WithSecureCookies(secure bool) *Handler {
	h.secureCookies = secure
	return h
}

// MountRoutes registers the public auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
}

// MountMe registers the authenticated identity route. Mounted separately so
// the router can place it behind the guard.
func (h *Handler) MountMe(r chi.Router) {
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	UserType     string    `json:"user_type"`
	RoleTemplate string    `json:"role_template,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if h.limiter != nil {
		decision, err := h.limiter.Allow(r.Context(), "login:"+ip, h.loginLimit)
		if err != nil {
			h.logger.Warn("login rate limit check failed", slog.Any("error", err))
		} else if !decision.Allowed {
			retry := int(time.Until(decision.ResetAt).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			h.record(audit.Event{
				ActorID:     audit.ActorAnonymous,
				Type:        audit.EventRateLimited,
				Severity:    audit.SeverityMedium,
				Description: "login attempts throttled",
				Metadata:    map[string]any{"ip": ip},
			})
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many login attempts")
			return
		}
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "email and password are required")
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, ip, r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.record(audit.Event{
				ActorID:     audit.ActorAnonymous,
				Type:        audit.EventLoginFailed,
				Severity:    audit.SeverityMedium,
				Description: "login rejected",
				Metadata:    map[string]any{"ip": ip, "email": req.Email},
			})
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.setCookie(w, result.Token, result.Claims.ExpiresAt.Time)
	h.record(audit.Event{
		ActorID:     result.User.ID,
		Type:        audit.EventLoginSuccess,
		Severity:    audit.SeverityLow,
		Description: "login succeeded",
		Metadata:    map[string]any{"ip": ip, "session": result.Session.ID},
	})
	httpx.JSON(w, http.StatusOK, loginResponse{
		UserID:       result.User.ID,
		Email:        result.User.Email,
		UserType:     result.Claims.UserType,
		RoleTemplate: result.Claims.RoleTemplate,
		ExpiresAt:    result.Claims.ExpiresAt.Time,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := authz.FromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), ac.SessionID()); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
		h.record(audit.Event{
			ActorID:     ac.UserID(),
			Type:        audit.EventSessionRevoked,
			Severity:    audit.SeverityLow,
			Description: "logout",
			Metadata:    map[string]any{"session": ac.SessionID()},
		})
	} else if raw := credentialFromRequest(r); raw != "" {
		if err := h.service.LogoutByCredential(r.Context(), raw); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := credentialFromRequest(r)
	if raw == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no credential")
		return
	}
	refreshed, claims, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.clearCookie(w)
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}
		h.logger.Error("refresh", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.setCookie(w, refreshed, claims.ExpiresAt.Time)
	httpx.JSON(w, http.StatusOK, map[string]any{"expires_at": claims.ExpiresAt.Time})
}

type meResponse struct {
	UserID       string   `json:"user_id"`
	UserType     string   `json:"user_type"`
	RoleTemplate string   `json:"role_template,omitempty"`
	RestaurantID string   `json:"restaurant_id,omitempty"`
	Permissions  []string `json:"permissions"`
	SessionID    string   `json:"session_id"`
	Refreshed    bool     `json:"refreshed"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ac, ok := authz.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no credential")
		return
	}
	resp := meResponse{
		UserID:       ac.UserID(),
		UserType:     string(ac.UserType()),
		RoleTemplate: ac.RoleTemplate(),
		Permissions:  ac.Permissions(),
		SessionID:    ac.SessionID(),
		Refreshed:    ac.Refreshed(),
	}
	if tenant := ac.Tenant(); tenant != nil {
		resp.RestaurantID = tenant.String()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) setCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     authz.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authz.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) record(e audit.Event) {
	if h.recorder != nil {
		h.recorder.Record(e)
	}
}

func credentialFromRequest(r *http.Request) string {
	if c, err := r.Cookie(authz.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if hdr := r.Header.Get("Authorization"); len(hdr) > 7 && hdr[:7] == "Bearer " {
		return hdr[7:]
	}
	return ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
