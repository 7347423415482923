package authz

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/observability"
	"github.com/qrdine/qrdine/internal/platform/httpx"
	"github.com/qrdine/qrdine/internal/ratelimit"
	"github.com/qrdine/qrdine/internal/rbac"
	"github.com/qrdine/qrdine/internal/session"
	"github.com/qrdine/qrdine/internal/token"
)

// Cookie names for the two credential generations.
const (
	CookieName       = "qr_rbac_token"
	LegacyCookieName = "qr_auth_token"
)

// PermissionSource computes a user's effective permission set.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Guard runs the authorization pipeline in front of protected handlers.
type Guard struct {
	tokens   *token.Service
	upgrader *token.Upgrader
	sessions *session.Manager
	perms    PermissionSource
	limiter  ratelimit.Limiter
	recorder *audit.Recorder
	metrics  *observability.Metrics
	logger   *slog.Logger

	secureCookies bool
}

// NewGuard constructs a Guard. The upgrader, limiter, recorder and metrics
// may be nil; the matching pipeline stage is then skipped or silent.
func NewGuard(tokens *token.Service, upgrader *token.Upgrader, sessions *session.Manager, perms PermissionSource, limiter ratelimit.Limiter, recorder *audit.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		tokens:   tokens,
		upgrader: upgrader,
		sessions: sessions,
		perms:    perms,
		limiter:  limiter,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// WithSecureCookies marks refreshed credential cookies as Secure. On in
// production behind TLS, off in tests.
func (g *Guard) WithSecureCookies(secure bool) *Guard {
	g.secureCookies = secure
	return g
}

// Authorize runs the pipeline for one request. On success it returns the
// assembled context and true; on any terminal outcome it writes the
// response itself and returns false.
func (g *Guard) Authorize(w http.ResponseWriter, r *http.Request, policy Policy) (*Context, bool) {
	ctx := r.Context()
	ip := clientIP(r)

	// Throttling happens before any credential work so abusive clients
	// never reach verification.
	if policy.RateLimit != nil && g.limiter != nil {
		decision, err := g.limiter.Allow(ctx, throttleKey(r, ip), *policy.RateLimit)
		if err != nil {
			// A broken counter store fails open: availability over strict
			// throttling.
			g.logger.Warn("rate limit check failed", slog.Any("error", err))
		} else if !decision.Allowed {
			retry := int(time.Until(decision.ResetAt).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			g.observe("throttled")
			g.audit(policy, audit.Event{
				ActorID:     audit.ActorAnonymous,
				Type:        audit.EventRateLimited,
				Severity:    audit.SeverityMedium,
				Description: "request rate limit exceeded",
				Metadata:    map[string]any{"ip": ip, "path": r.URL.Path},
			})
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "request rate limit exceeded")
			return nil, false
		}
	}

	raw, legacyRaw := extractCredentials(r, policy)
	if raw == "" && legacyRaw == "" {
		g.deny(w, policy, http.StatusUnauthorized, "no credential", audit.Event{
			ActorID:     audit.ActorAnonymous,
			Type:        audit.EventCredentialInvalid,
			Severity:    audit.SeverityLow,
			Description: "request carried no credential",
			Metadata:    map[string]any{"ip": ip, "path": r.URL.Path},
		})
		return nil, false
	}

	claims, refreshed, ok := g.verify(w, r, policy, raw, legacyRaw, ip)
	if !ok {
		return nil, false
	}

	if policy.RequireSession {
		if _, err := g.sessions.Live(ctx, claims.SessionID); err != nil {
			switch {
			case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrRevoked):
				g.deny(w, policy, http.StatusUnauthorized, "session not found or expired", audit.Event{
					ActorID:     claims.UserID,
					Type:        audit.EventAccessDenied,
					Severity:    audit.SeverityMedium,
					Description: "credential names a dead session",
					Metadata:    map[string]any{"session": claims.SessionID, "reason": err.Error()},
				})
			default:
				g.fault(w, policy, claims.UserID, "session liveness check", err)
			}
			return nil, false
		}
	}

	role := claims.Role()

	if len(policy.UserTypes) > 0 && !containsType(policy.UserTypes, role.UserType) {
		g.forbid(w, policy, claims.UserID, "user type not permitted", map[string]any{
			"user_type": string(role.UserType),
			"path":      r.URL.Path,
		})
		return nil, false
	}

	if len(policy.Roles) > 0 && !contains(policy.Roles, role.Template) {
		g.forbid(w, policy, claims.UserID, "role not permitted", map[string]any{
			"role": role.Template,
			"path": r.URL.Path,
		})
		return nil, false
	}

	// Effective permissions always come from the catalog, never from the
	// credential: a role change takes effect on the next request.
	keys, err := g.perms.EffectivePermissions(ctx, claims.UserID)
	if err != nil {
		// No active assignment is a valid state for a freshly created
		// account: an empty set, not a fault.
		if !errors.Is(err, rbac.ErrNotFound) {
			g.fault(w, policy, claims.UserID, "permission computation", err)
			return nil, false
		}
		keys = nil
	}
	permSet := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		permSet[key] = struct{}{}
	}
	for _, required := range policy.Permissions {
		if _, held := permSet[required]; !held {
			g.forbid(w, policy, claims.UserID, "missing permission", map[string]any{
				"permission": required,
				"path":       r.URL.Path,
			})
			return nil, false
		}
	}

	ac := &Context{
		userID:       claims.UserID,
		userType:     role.UserType,
		roleTemplate: role.Template,
		restaurantID: role.RestaurantID,
		sessionID:    claims.SessionID,
		permissions:  permSet,
		refreshed:    refreshed,
	}
	g.observe("granted")
	g.audit(policy, audit.Event{
		ActorID:     claims.UserID,
		Type:        audit.EventAccessGranted,
		Severity:    audit.SeverityLow,
		Description: "access granted",
		Metadata:    map[string]any{"path": r.URL.Path, "role": role.Template},
	})
	return ac, true
}

// Middleware wraps a handler subtree with the pipeline under one policy.
func (g *Guard) Middleware(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := g.Authorize(w, r, policy)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// verify runs credential verification with the legacy fallback. It writes
// the failure response itself when returning ok=false.
func (g *Guard) verify(w http.ResponseWriter, r *http.Request, policy Policy, raw, legacyRaw, ip string) (*token.Claims, bool, bool) {
	if raw != "" {
		claims, err := g.tokens.Verify(raw)
		if err == nil {
			return claims, false, true
		}
		// A current-format slot may carry a legacy token from an old
		// client; fall through to the upgrade path with the same value.
		if legacyRaw == "" {
			legacyRaw = raw
		}
	}

	if policy.AllowLegacy && g.upgrader != nil && legacyRaw != "" {
		result, err := g.upgrader.Upgrade(r.Context(), legacyRaw, ip, r.UserAgent())
		if err != nil {
			g.fault(w, policy, audit.ActorAnonymous, "legacy upgrade", err)
			return nil, false, false
		}
		if result.Status == token.StatusLegacyUpgraded {
			g.setCredentialCookie(w, result.Refreshed)
			if g.metrics != nil {
				g.metrics.LegacyUpgrade()
			}
			g.audit(policy, audit.Event{
				ActorID:     result.Claims.UserID,
				Type:        audit.EventCredentialUpgraded,
				Severity:    audit.SeverityLow,
				Description: "legacy credential upgraded",
				Metadata:    map[string]any{"ip": ip},
			})
			return result.Claims, true, true
		}
	}

	g.deny(w, policy, http.StatusUnauthorized, "invalid credential", audit.Event{
		ActorID:     audit.ActorAnonymous,
		Type:        audit.EventCredentialInvalid,
		Severity:    audit.SeverityMedium,
		Description: "credential failed verification",
		Metadata:    map[string]any{"ip": ip, "path": r.URL.Path},
	})
	return nil, false, false
}

func (g *Guard) setCredentialCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(g.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (g *Guard) deny(w http.ResponseWriter, policy Policy, status int, detail string, event audit.Event) {
	g.observe("unauthenticated")
	g.audit(policy, event)
	httpx.Problem(w, status, http.StatusText(status), detail)
}

func (g *Guard) forbid(w http.ResponseWriter, policy Policy, actor, detail string, meta map[string]any) {
	g.observe("forbidden")
	g.audit(policy, audit.Event{
		ActorID:     actor,
		Type:        audit.EventAccessDenied,
		Severity:    audit.SeverityMedium,
		Description: detail,
		Metadata:    meta,
	})
	httpx.Problem(w, http.StatusForbidden, "Forbidden", detail)
}

// fault handles unexpected internal failures: detail withheld from the
// caller, always audited at high severity regardless of policy.Audit.
func (g *Guard) fault(w http.ResponseWriter, policy Policy, actor, stage string, err error) {
	g.observe("fault")
	g.logger.Error("authorization pipeline fault",
		slog.String("stage", stage), slog.Any("error", err))
	if g.recorder != nil {
		g.recorder.Record(audit.Event{
			ActorID:     actor,
			Type:        audit.EventInternalError,
			Severity:    audit.SeverityHigh,
			Description: "authorization pipeline fault: " + stage,
			Metadata:    map[string]any{"error": err.Error()},
		})
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func (g *Guard) audit(policy Policy, event audit.Event) {
	if !policy.Audit || g.recorder == nil {
		return
	}
	g.recorder.Record(event)
}

func (g *Guard) observe(decision string) {
	if g.metrics != nil {
		g.metrics.AuthDecision(decision)
	}
}

// extractCredentials pulls the current and legacy raw credentials off a
// request. Precedence for the current format: cookie, bearer header, then
// query parameter when the policy permits it.
func extractCredentials(r *http.Request, policy Policy) (raw, legacyRaw string) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		raw = c.Value
	}
	if raw == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if raw == "" && policy.AllowQueryToken {
		raw = r.URL.Query().Get("token")
	}
	if policy.AllowLegacy {
		if c, err := r.Cookie(LegacyCookieName); err == nil && c.Value != "" {
			legacyRaw = c.Value
		}
	}
	return raw, legacyRaw
}

func throttleKey(r *http.Request, ip string) string {
	return r.Method + " " + r.URL.Path + " " + ip
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func containsType(values []rbac.UserType, v rbac.UserType) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
