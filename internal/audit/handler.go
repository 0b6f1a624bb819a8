package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/api"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
)

// Lister reads persisted events. *Repository implements it.
type Lister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error)
}

type Handler struct {
	events Lister
}

func NewHandler(events Lister) *Handler {
	return &Handler{events: events}
}

// ListEvents handles GET /api/v1/generator/events: the caller's own
// generation events, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params, appErr := parseListParams(r)
	if appErr != nil {
		api.HandleError(w, appErr)
		return
	}

	entries, total, err := h.events.ListByUser(r.Context(), identity.UserID, params)
	if err != nil {
		slog.Error("listing generation events", "error", err, "user_id", identity.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) (ListParams, *api.AppError) {
	params := DefaultListParams()
	q := r.URL.Query()

	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	params.Outcome = q.Get("outcome")

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, api.NewBadRequestError("from must be an RFC3339 timestamp")
		}
		params.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, api.NewBadRequestError("to must be an RFC3339 timestamp")
		}
		params.To = &t
	}

	return params, nil
}
