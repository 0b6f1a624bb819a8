package generator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/api"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Generate handles POST /api/v1/generate-prompt. It parses the bearer token
// itself so the auth failure body matches the rest of the generator flow.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)

	var req Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An unauthenticated caller learns nothing about the body.
		if _, authErr := h.svc.Authenticate(r.Context(), token); authErr != nil {
			api.HandleError(w, h.toAppError(authErr))
			return
		}
		api.HandleError(w, api.ErrInvalidBody)
		return
	}

	result, err := h.svc.Generate(r.Context(), token, &req)
	if err != nil {
		api.HandleError(w, h.toAppError(err))
		return
	}

	api.JSONRaw(w, http.StatusOK, result)
}

func (h *Handler) toAppError(err error) *api.AppError {
	var (
		qe *QuotaError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &qe):
		return api.NewQuotaError(quotaMessage(qe.Limit))
	case errors.As(err, &ve):
		return api.NewValidationError(ve.Error())
	case errors.Is(err, ErrInvalidSession):
		return api.ErrInvalidToken
	case errors.Is(err, ErrUnauthenticated):
		return api.ErrUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return api.ErrInvalidBody
	case errors.Is(err, ErrUpstreamBusy):
		return api.ErrUpstreamBusy
	case errors.Is(err, ErrUpstreamUnavailable):
		return api.ErrUpstreamDown
	default:
		if !errors.Is(err, ErrGenerationFailed) {
			slog.Error("generating prompt", "error", err)
		}
		return api.ErrGenerationFailed
	}
}

// Quota handles GET /api/v1/generator/quota.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.svc.Status(r.Context(), identity.UserID)
	if err != nil {
		slog.Error("reading quota status", "error", err, "user_id", identity.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// Usage handles GET /api/v1/generator/usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := usage.DefaultListParams()
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

	from, to, appErr := parseRange(r)
	if appErr != nil {
		api.HandleError(w, appErr)
		return
	}
	params.From, params.To = from, to

	records, total, err := h.svc.History(r.Context(), identity.UserID, params)
	if err != nil {
		slog.Error("listing generation history", "error", err, "user_id", identity.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, records, total, params.Page, params.PageSize)
}

// UsageStats handles GET /api/v1/generator/usage/stats.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	from, to, appErr := parseRange(r)
	if appErr != nil {
		api.HandleError(w, appErr)
		return
	}

	stats, err := h.svc.Stats(r.Context(), identity.UserID, from, to)
	if err != nil {
		slog.Error("aggregating generation stats", "error", err, "user_id", identity.UserID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, stats)
}

func (h *Handler) PromptTypes(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.svc.PromptTypes())
}

func parseRange(r *http.Request) (from, to *time.Time, appErr *api.AppError) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, api.NewBadRequestError("from must be an RFC3339 timestamp")
		}
		from = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, api.NewBadRequestError("to must be an RFC3339 timestamp")
		}
		to = &t
	}
	return from, to, nil
}
