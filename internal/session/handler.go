package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qrdine/qrdine/internal/audit"
	"github.com/qrdine/qrdine/internal/platform/httpx"
)

// Handler exposes administrative session revocation.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	recorder *audit.Recorder
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, manager *Manager, recorder *audit.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, manager: manager, recorder: recorder}
}

// MountRoutes registers revocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Delete("/{id}", h.revoke)
	r.Delete("/users/{userID}", h.revokeAllForUser)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "session does not exist")
			return
		}
		h.logger.Error("revoke session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.record(audit.Event{
		Type:        audit.EventSessionRevoked,
		Severity:    audit.SeverityMedium,
		Description: "session revoked by administrator",
		Metadata:    map[string]any{"session": id},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeAllForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	count, err := h.manager.RevokeAllForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("revoke user sessions", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.record(audit.Event{
		Type:        audit.EventSessionRevoked,
		Severity:    audit.SeverityMedium,
		Description: "all sessions revoked for user",
		Metadata:    map[string]any{"user": userID, "count": count},
	})
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": count})
}

func (h *Handler) record(e audit.Event) {
	if h.recorder != nil {
		h.recorder.Record(e)
	}
}
