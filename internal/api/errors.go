package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"classhub/internal/middleware"
	"classhub/internal/service"
	"classhub/internal/store"
	"classhub/internal/util"
)

// writeServiceError maps domain errors onto HTTP statuses. Unexpected errors
// are logged and reported with a generic message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		util.WriteError(w, http.StatusBadRequest, "invalid_request", ve.Msg, rid)
	case errors.Is(err, store.ErrDuplicateUsername):
		util.WriteError(w, http.StatusBadRequest, "duplicate_username", "username already exists", rid)
	case errors.Is(err, service.ErrRegistrationClosed):
		util.WriteError(w, http.StatusBadRequest, "registration_closed", "registration is closed", rid)
	case errors.Is(err, service.ErrAccountBanned):
		util.WriteError(w, http.StatusUnauthorized, "banned", "account is banned", rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid login id or password", rid)
	case errors.Is(err, service.ErrUnauthorized):
		util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", rid)
	case errors.Is(err, service.ErrBanned):
		util.WriteError(w, http.StatusForbidden, "banned", "account is banned", rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions", rid)
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "not found", rid)
	case errors.Is(err, service.ErrAlreadyReviewed):
		util.WriteError(w, http.StatusConflict, "already_reviewed", "registration request has already been reviewed", rid)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "conflict", rid)
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", rid),
			zap.Error(err),
		)
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", rid)
	}
}
