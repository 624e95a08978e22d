package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixora-labs/pixora/internal/auth"
)

type fakeFavorites struct {
	items map[string]Favorite
	err   error
}

func newFakeFavorites() *fakeFavorites {
	return &fakeFavorites{items: make(map[string]Favorite)}
}

func (f *fakeFavorites) Add(_ context.Context, fav *Favorite) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.items[fav.UserID+"|"+fav.ImageURL]; !ok {
		f.items[fav.UserID+"|"+fav.ImageURL] = *fav
	}
	return nil
}

func (f *fakeFavorites) Remove(_ context.Context, userID, imageURL string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.items[userID+"|"+imageURL]
	delete(f.items, userID+"|"+imageURL)
	return ok, nil
}

func (f *fakeFavorites) List(_ context.Context, userID string) ([]Favorite, error) {
	out := []Favorite{}
	for _, fav := range f.items {
		if fav.UserID == userID {
			out = append(out, fav)
		}
	}
	return out, f.err
}

func authed(r *http.Request) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{ID: "user-1", Tier: "free"}))
}

func TestHandler_ListViews(t *testing.T) {
	log := NewMemoryLog()
	appendN(t, log, "user-1", 8)
	h := NewHandler(log, newFakeFavorites())

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"prompt 8", "prompt 7", "prompt 6", "prompt 5", "prompt 4"}},
		{"?view=detail&order=oldest", []string{"prompt 4", "prompt 5", "prompt 6", "prompt 7", "prompt 8"}},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil)))

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data []Entry `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.want, prompts(body.Data), tt.query)
	}

	rec := httptest.NewRecorder()
	h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/history?view=all", nil)))
	var body struct {
		Data []Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 8)
}

func TestHandler_ListRejectsUnknownView(t *testing.T) {
	h := NewHandler(NewMemoryLog(), newFakeFavorites())
	rec := httptest.NewRecorder()
	h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/history?view=weekly", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ListUnauthenticated(t *testing.T) {
	h := NewHandler(NewMemoryLog(), newFakeFavorites())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Favorites(t *testing.T) {
	favs := newFakeFavorites()
	h := NewHandler(NewMemoryLog(), favs)

	body := `{"image_url":"https://cdn.example/1.png","prompt":"a fox"}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.AddFavorite(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/favorites", strings.NewReader(body))))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Len(t, favs.items, 1, "favorites are unique per user and image")

	rec := httptest.NewRecorder()
	h.ListFavorites(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/favorites", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://cdn.example/1.png")

	rec = httptest.NewRecorder()
	h.RemoveFavorite(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/favorites?image=https://cdn.example/1.png", nil)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.RemoveFavorite(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/favorites?image=https://cdn.example/1.png", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_AddFavoriteValidation(t *testing.T) {
	h := NewHandler(NewMemoryLog(), newFakeFavorites())

	for _, body := range []string{`{"image_url":""}`, `{"image_url":"not a url"}`, `{`} {
		rec := httptest.NewRecorder()
		h.AddFavorite(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/favorites", strings.NewReader(body))))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandler_FavoritesStoreError(t *testing.T) {
	favs := newFakeFavorites()
	favs.err = errors.New("db down")
	h := NewHandler(NewMemoryLog(), favs)

	rec := httptest.NewRecorder()
	h.ListFavorites(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/favorites", nil)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
