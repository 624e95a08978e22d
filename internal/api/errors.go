package api

import (
	"errors"
	"net/http"
)

// StatusClientClosedRequest is reported when the caller abandoned a job.
const StatusClientClosedRequest = 499

type AppError struct {
	Code    int     `json:"-"`
	Message string  `json:"error"`
	Upgrade *Upsell `json:"upgrade,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) upgradeURL() string {
	if e.Upgrade == nil {
		return ""
	}
	return e.Upgrade.URL
}

// Upsell points a caller that ran out of quota at the upgrade path.
type Upsell struct {
	URL         string `json:"url"`
	CurrentTier string `json:"current_tier"`
	Resource    string `json:"resource"`
}

var (
	ErrBadRequest       = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized     = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound         = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrMethodNotAllowed = &AppError{Code: http.StatusMethodNotAllowed, Message: "Method not allowed"}
	ErrInternalServer   = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken     = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrUnavailable      = &AppError{Code: http.StatusServiceUnavailable, Message: "quota state unavailable, please retry"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func NewConflictError(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewQuotaExceededError(msg string, upsell Upsell) *AppError {
	return &AppError{Code: http.StatusPaymentRequired, Message: msg, Upgrade: &upsell}
}

func NewError(code int, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code, Response{Error: appErr.Message, UpgradeURL: appErr.upgradeURL(), Upgrade: appErr.Upgrade})
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}

// HandleMessageError writes err in the bare {"message": ...} shape used by
// the /api media endpoints.
func HandleMessageError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code, Response{Message: appErr.Message, UpgradeURL: appErr.upgradeURL(), Upgrade: appErr.Upgrade})
		return
	}
	JSONMessage(w, http.StatusInternalServerError, "internal server error")
}
