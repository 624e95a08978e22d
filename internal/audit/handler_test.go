package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixora-labs/pixora/internal/auth"
)

type fakeLister struct {
	gotUser   string
	gotParams ListParams
	entries   []Entry
	err       error
}

func (f *fakeLister) ListByUser(_ context.Context, userID string, params ListParams) ([]Entry, int64, error) {
	f.gotUser = userID
	f.gotParams = params
	return f.entries, int64(len(f.entries)), f.err
}

func TestHandler_List(t *testing.T) {
	repo := &fakeLister{entries: []Entry{{UserID: "user-1", EventType: "job.succeeded"}}}
	h := NewHandler(repo)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/audit?event_type=job.failed&resource_type=job&page=2&page_size=5&from=2024-05-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: "user-1", Tier: "free"}))
	rec := httptest.NewRecorder()

	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", repo.gotUser)
	assert.Equal(t, "job.failed", repo.gotParams.EventType)
	assert.Equal(t, "job", repo.gotParams.ResourceType)
	assert.Equal(t, 2, repo.gotParams.Page)
	assert.Equal(t, 5, repo.gotParams.PageSize)
	require.NotNil(t, repo.gotParams.From)
	assert.True(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Equal(*repo.gotParams.From))
	assert.Nil(t, repo.gotParams.To)

	var body struct {
		Data       []Entry `json:"data"`
		TotalCount int64   `json:"total_count"`
		Page       int     `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, int64(1), body.TotalCount)
	assert.Equal(t, 2, body.Page)
}

func TestHandler_ListIgnoresBadParams(t *testing.T) {
	repo := &fakeLister{}
	h := NewHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?page=-1&page_size=500&to=yesterday", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: "user-1"}))
	rec := httptest.NewRecorder()

	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, repo.gotParams.Page)
	assert.Equal(t, 20, repo.gotParams.PageSize)
	assert.Nil(t, repo.gotParams.To)
}

func TestHandler_ListUnauthenticated(t *testing.T) {
	h := NewHandler(&fakeLister{})
	rec := httptest.NewRecorder()

	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_ListRepositoryError(t *testing.T) {
	h := NewHandler(&fakeLister{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ID: "user-1"}))
	rec := httptest.NewRecorder()

	h.List(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBuildFilter(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildFilter("user-1", ListParams{EventType: "job.failed", ResourceID: "job-9", From: &from})

	assert.Equal(t, "user_id = $1 AND event_type = $2 AND resource_id = $3 AND created_at >= $4", where)
	assert.Equal(t, []any{"user-1", "job.failed", "job-9", from}, args)
}
