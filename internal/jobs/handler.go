package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/auth"
	"github.com/pixora-labs/pixora/internal/media"
	"github.com/pixora-labs/pixora/internal/quota"
	"github.com/pixora-labs/pixora/internal/storage"
)

const (
	msgInvalidBody = "Invalid request body"
	// multipart bodies may carry form overhead on top of the image itself
	maxUploadBody = media.MaxImageBytes + 1<<20
)

// UserResolver turns an authenticated identity into a quota user.
type UserResolver interface {
	UserFor(id auth.Identity) quota.User
}

// UploadStore stores standalone uploads.
type UploadStore interface {
	Store(ctx context.Context, filename string, data []byte) (*storage.Upload, error)
}

type GenerateRequest struct {
	Prompt     string `json:"prompt"`
	NumOutputs int    `json:"num_outputs"`
	Quality    string `json:"quality"`
	Style      string `json:"style"`
}

type UpscaleRequest struct {
	ImageURL string `json:"imageUrl"`
}

type CreateJobRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=generate upscale"`
	Prompt     string `json:"prompt" validate:"max=2000"`
	NumOutputs int    `json:"num_outputs"`
	Quality    string `json:"quality" validate:"omitempty,oneof=standard high"`
	Style      string `json:"style"`
	ImageURL   string `json:"image_url"`
}

type Handler struct {
	ctrl     *Controller
	users    UserResolver
	uploads  UploadStore
	validate *validator.Validate
}

func NewHandler(ctrl *Controller, users UserResolver, uploads UploadStore) *Handler {
	return &Handler{
		ctrl:     ctrl,
		users:    users,
		uploads:  uploads,
		validate: validator.New(),
	}
}

// Generate serves the synchronous POST /api/generate endpoint.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleMessageError(w, api.ErrUnauthorized)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleMessageError(w, api.NewBadRequestError(msgInvalidBody))
		return
	}

	snap, ok := h.runSync(w, r, id, quota.KindGenerate, Input{
		Prompt:  req.Prompt,
		Style:   req.Style,
		Quality: req.Quality,
		Count:   media.ClampCount(req.NumOutputs),
	})
	if !ok {
		return
	}

	api.Raw(w, http.StatusOK, map[string]any{"images": snap.Images})
}

// Upscale serves POST /api/upscale. It accepts a JSON {imageUrl} body or a
// multipart form with a "file" field.
func (h *Handler) Upscale(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleMessageError(w, api.ErrUnauthorized)
		return
	}

	var in Input
	if isMultipart(r) {
		filename, data, err := readUpload(w, r)
		if err != nil {
			api.HandleMessageError(w, legacyError(h.ctrl.failureFrom(err)))
			return
		}
		in = Input{Filename: filename, ImageData: data}
	} else {
		var req UpscaleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.HandleMessageError(w, api.NewBadRequestError(msgInvalidBody))
			return
		}
		in = Input{ImageURL: req.ImageURL}
	}

	snap, ok := h.runSync(w, r, id, quota.KindUpscale, in)
	if !ok {
		return
	}

	var out string
	if len(snap.Images) > 0 {
		out = snap.Images[0]
	}
	api.Raw(w, http.StatusOK, map[string]string{"upscaledImage": out})
}

// Upload serves POST /api/upload.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		api.HandleMessageError(w, api.ErrUnauthorized)
		return
	}

	filename, data, err := readUpload(w, r)
	if err != nil {
		api.HandleMessageError(w, legacyError(h.ctrl.failureFrom(err)))
		return
	}

	up, err := h.uploads.Store(r.Context(), filename, data)
	if err != nil {
		if media.IsValidation(err) {
			api.HandleMessageError(w, legacyError(h.ctrl.failureFrom(err)))
			return
		}
		slog.Error("jobs: storing upload", "error", err)
		api.HandleMessageError(w, api.NewError(http.StatusInternalServerError, MsgUploadFailed))
		return
	}

	api.Raw(w, http.StatusOK, map[string]string{"url": up.URL, "thumbnailUrl": up.ThumbnailURL})
}

// runSync starts a job and waits for it. If the client goes away first the
// job is cancelled. It reports false once an error response was written.
func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, id auth.Identity, kind quota.Kind, in Input) (Snapshot, bool) {
	job, err := h.ctrl.Start(h.users.UserFor(id), kind, in)
	if err != nil {
		api.HandleMessageError(w, api.NewError(http.StatusServiceUnavailable, err.Error()))
		return Snapshot{}, false
	}

	snap, err := h.ctrl.Wait(r.Context(), job)
	if err != nil {
		if _, cerr := h.ctrl.Cancel(job.ID, job.UserID); cerr != nil && !errors.Is(cerr, ErrNotCancellable) {
			slog.Warn("jobs: cancelling abandoned job", "job_id", job.ID, "error", cerr)
		}
		api.HandleMessageError(w, api.NewError(api.StatusClientClosedRequest, MsgCancelled))
		return Snapshot{}, false
	}

	if snap.State != StateSucceeded {
		api.HandleMessageError(w, legacyError(failureOf(snap)))
		return Snapshot{}, false
	}
	return snap, true
}

// Create serves POST /api/v1/jobs and answers 202 with the job snapshot.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	in := Input{ImageURL: req.ImageURL}
	if quota.Kind(req.Kind) == quota.KindGenerate {
		in = Input{
			Prompt:  req.Prompt,
			Style:   req.Style,
			Quality: req.Quality,
			Count:   media.ClampCount(req.NumOutputs),
		}
	}

	job, err := h.ctrl.Start(h.users.UserFor(id), quota.Kind(req.Kind), in)
	if err != nil {
		api.HandleError(w, api.NewError(http.StatusServiceUnavailable, err.Error()))
		return
	}

	snap := job.Snapshot()
	if snap.State == StateFailed {
		job.observe()
		api.HandleError(w, v1Error(failureOf(snap)))
		return
	}

	api.JSON(w, http.StatusAccepted, snap)
}

// Get serves GET /api/v1/jobs/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	snap, err := h.ctrl.Observe(chi.URLParam(r, "id"), id.ID)
	if err != nil {
		api.HandleError(w, api.NewNotFoundError(err.Error()))
		return
	}

	api.JSON(w, http.StatusOK, snap)
}

// Cancel serves DELETE /api/v1/jobs/{id}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	job, err := h.ctrl.Cancel(chi.URLParam(r, "id"), id.ID)
	switch {
	case errors.Is(err, ErrJobNotFound):
		api.HandleError(w, api.NewNotFoundError(err.Error()))
		return
	case errors.Is(err, ErrNotCancellable):
		api.HandleError(w, api.NewConflictError(err.Error()))
		return
	}

	job.observe()
	api.JSON(w, http.StatusOK, job.Snapshot())
}

// Estimate serves GET /api/v1/estimate?quality=&count=.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 0
	if c := q.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("count must be a number"))
			return
		}
		count = n
	}

	api.JSON(w, http.StatusOK, EstimateFor(q.Get("quality"), count))
}

func failureOf(snap Snapshot) Failure {
	if snap.Failure != nil {
		return *snap.Failure
	}
	return Failure{Kind: FailInternal, Message: MsgInternalFailed}
}

// legacyError maps a failure onto the /api status codes, where every
// provider-side failure is a 500.
func legacyError(f Failure) *api.AppError {
	status := http.StatusInternalServerError
	switch f.Kind {
	case FailValidation:
		status = http.StatusBadRequest
	case FailQuotaExceeded:
		status = http.StatusPaymentRequired
	case FailPersistence:
		status = http.StatusServiceUnavailable
	case FailCancelled:
		status = api.StatusClientClosedRequest
	}
	return &api.AppError{Code: status, Message: f.Message, Upgrade: f.Upgrade}
}

// v1Error distinguishes provider, network and timeout failures.
func v1Error(f Failure) *api.AppError {
	switch f.Kind {
	case FailProvider, FailNetwork:
		return &api.AppError{Code: http.StatusBadGateway, Message: f.Message}
	case FailTimeout:
		return &api.AppError{Code: http.StatusGatewayTimeout, Message: f.Message}
	}
	return legacyError(f)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// readUpload extracts the "file" field of a multipart form. Missing and
// oversized files are reported as validation errors.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, media.NewValidationError("upload", media.MsgFileTooLarge)
		}
		return "", nil, media.NewValidationError("upload", media.MsgNoFile)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, media.NewValidationError("upload", media.MsgNoFile)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, media.MaxImageBytes+1))
	if err != nil {
		return "", nil, media.NewValidationError("upload", media.MsgInvalidImage)
	}
	if len(data) == 0 {
		return "", nil, media.NewValidationError("upload", media.MsgNoFile)
	}
	return header.Filename, data, nil
}
