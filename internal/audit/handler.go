package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qrdine/qrdine/internal/platform/httpx"
)

// Handler exposes the read-only audit feed.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers feed routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.feed)
}

type eventResponse struct {
	ID          uuid.UUID      `json:"id"`
	ActorID     string         `json:"actor_id"`
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	At          time.Time      `json:"at"`
}

type feedResponse struct {
	Events []eventResponse `json:"events"`
	Paging PagingInfo      `json:"paging"`
}

func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filters{
		Actor:    q.Get("actor"),
		Type:     q.Get("type"),
		Severity: Severity(q.Get("severity")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from must be RFC3339")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to must be RFC3339")
			return
		}
		f.To = t
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.service.Feed(r.Context(), f)
	if err != nil {
		h.logger.Error("audit feed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := feedResponse{Paging: result.Paging, Events: make([]eventResponse, 0, len(result.Events))}
	for _, e := range result.Events {
		out.Events = append(out.Events, eventResponse{
			ID:          e.ID,
			ActorID:     e.ActorID,
			Type:        e.Type,
			Severity:    e.Severity,
			Description: e.Description,
			Metadata:    e.Metadata,
			At:          e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}
