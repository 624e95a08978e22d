package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/auth"
)

// FavoriteStore is the persistence behind the favorites endpoints.
type FavoriteStore interface {
	Add(ctx context.Context, f *Favorite) error
	Remove(ctx context.Context, userID, imageURL string) (bool, error)
	List(ctx context.Context, userID string) ([]Favorite, error)
}

type Handler struct {
	log      Log
	favs     FavoriteStore
	validate *validator.Validate
}

func NewHandler(log Log, favs FavoriteStore) *Handler {
	return &Handler{
		log:      log,
		favs:     favs,
		validate: validator.New(),
	}
}

// List serves GET /api/v1/history?view=trend|detail|all&order=newest|oldest.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	view, ok := ParseView(q.Get("view"))
	if !ok {
		api.HandleError(w, api.NewBadRequestError("view must be one of trend, detail, all"))
		return
	}

	entries, err := h.log.Recent(r.Context(), id.ID, view.Size(), ParseOrder(q.Get("order")))
	if err != nil {
		slog.Error("history: listing entries", "user_id", id.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, entries)
}

func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req AddFavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	fav := &Favorite{UserID: id.ID, ImageURL: req.ImageURL, Prompt: req.Prompt}
	if err := h.favs.Add(r.Context(), fav); err != nil {
		slog.Error("history: adding favorite", "user_id", id.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, fav)
}

func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	image := r.URL.Query().Get("image")
	if image == "" {
		api.HandleError(w, api.NewBadRequestError("image is required"))
		return
	}

	removed, err := h.favs.Remove(r.Context(), id.ID, image)
	if err != nil {
		slog.Error("history: removing favorite", "user_id", id.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if !removed {
		api.HandleError(w, api.NewNotFoundError("favorite not found"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	favs, err := h.favs.List(r.Context(), id.ID)
	if err != nil {
		slog.Error("history: listing favorites", "user_id", id.ID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, favs)
}
