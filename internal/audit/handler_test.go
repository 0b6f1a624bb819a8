package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
)

type fakeLister struct {
	entries []Entry
	err     error

	gotUser   uuid.UUID
	gotParams ListParams
}

func (f *fakeLister) ListByUser(_ context.Context, userID uuid.UUID, params ListParams) ([]Entry, int64, error) {
	f.gotUser = userID
	f.gotParams = params
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.entries, int64(len(f.entries)), nil
}

func listEvents(h *Handler, userID uuid.UUID, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != uuid.Nil {
		req = req.WithContext(context.WithValue(req.Context(), auth.IdentityKey, &auth.Identity{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	h.ListEvents(rec, req)
	return rec
}

func TestHandler_ListEvents(t *testing.T) {
	userID := uuid.New()
	occurred := time.Date(2025, 3, 14, 15, 4, 5, 0, time.UTC)
	lister := &fakeLister{entries: []Entry{
		{ID: uuid.New(), UserID: userID, Outcome: "completed", Tool: "cursor", Remaining: 2, OccurredAt: occurred},
	}}
	h := NewHandler(lister)

	rec := listEvents(h, userID, "/api/v1/generator/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data       []Entry `json:"data"`
		TotalCount int64   `json:"total_count"`
		Page       int     `json:"page"`
		PageSize   int     `json:"page_size"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "completed", out.Data[0].Outcome)
	assert.Equal(t, int64(1), out.TotalCount)
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 20, out.PageSize)
	assert.Equal(t, userID, lister.gotUser)
}

func TestHandler_ListEvents_Filters(t *testing.T) {
	lister := &fakeLister{}
	h := NewHandler(lister)

	rec := listEvents(h, uuid.New(),
		"/api/v1/generator/events?page=3&page_size=5&outcome=quota_exceeded&from=2025-03-14T00:00:00Z&to=2025-03-15T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	p := lister.gotParams
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 5, p.PageSize)
	assert.Equal(t, "quota_exceeded", p.Outcome)
	require.NotNil(t, p.From)
	require.NotNil(t, p.To)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), p.To.UTC())
}

func TestHandler_ListEvents_Errors(t *testing.T) {
	tests := []struct {
		name   string
		user   uuid.UUID
		target string
		err    error
		want   int
	}{
		{"no identity", uuid.Nil, "/api/v1/generator/events", nil, http.StatusUnauthorized},
		{"bad from", uuid.New(), "/api/v1/generator/events?from=yesterday", nil, http.StatusBadRequest},
		{"bad to", uuid.New(), "/api/v1/generator/events?to=tomorrow", nil, http.StatusBadRequest},
		{"store error", uuid.New(), "/api/v1/generator/events", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeLister{err: tt.err})
			rec := listEvents(h, tt.user, tt.target)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}
