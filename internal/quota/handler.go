package quota

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/auth"
)

// Handler provides HTTP handlers for quota endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new quota Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetQuota returns the caller's allowance, lifetime totals and the time
// until the next reset.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.svc.Status(r.Context(), h.svc.UserFor(id))
	if err != nil {
		api.HandleError(w, AppError(err, h.svc.UpgradeURL()))
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// AppError maps quota errors onto their HTTP form. Exhaustion becomes a 402
// carrying the upgrade path; storage failures become a 503.
func AppError(err error, upgradeURL string) error {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return api.NewQuotaExceededError(exceeded.Error(), api.Upsell{
			URL:         upgradeURL,
			CurrentTier: string(exceeded.Tier),
			Resource:    string(exceeded.Kind),
		})
	}

	var persist *PersistenceError
	if errors.As(err, &persist) {
		slog.Error("quota: storage unavailable", "op", persist.Op, "user_id", persist.UserID, "error", persist.Err)
		return api.ErrUnavailable
	}

	return api.ErrInternalServer
}
