package audithttp

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath-edu/brightpath-auth/internal/audit"
	"github.com/brightpath-edu/brightpath-auth/internal/platform/httpx"
)

const defaultStatsWindow = 30 * 24 * time.Hour

// Handler exposes admin endpoints over the security log.
type Handler struct {
	logger  *slog.Logger
	service *audit.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *audit.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the admin audit endpoints. Callers are expected to
// mount these behind authentication and an admin role check.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/admin/audit/recent", h.handleRecent)
	r.Get("/admin/audit/users/{id}", h.handleForUser)
	r.Get("/admin/audit/stats", h.handleStats)
}

type entryResponse struct {
	ID         int64          `json:"id"`
	UserID     int64          `json:"user_id,omitempty"`
	EventType  string         `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func toEntryResponses(entries []audit.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryResponse{
			ID:         entry.ID,
			UserID:     entry.UserID,
			EventType:  entry.EventType,
			Details:    entry.Details,
			OccurredAt: entry.OccurredAt,
		})
	}
	return out
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("audit recent", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(entries)})
}

func (h *Handler) handleForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	entries, err := h.service.ForUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("audit for user", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(entries)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.Add(-defaultStatsWindow)
	to := now
	query := r.URL.Query()
	if raw := query.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from timestamp")
			return
		}
		from = parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to timestamp")
			return
		}
		to = parsed
	}
	stats, err := h.service.WindowStats(r.Context(), from, to)
	if err != nil {
		h.logger.Error("audit stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
