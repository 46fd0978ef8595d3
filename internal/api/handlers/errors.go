package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/utils"
)

// writeError maps the error taxonomy onto HTTP. Expected outcomes are not
// logged as errors; inconsistent state always is, and its detail never
// reaches the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *apperrors.ValidationError

	switch {
	case errors.Is(err, apperrors.ErrInconsistentState):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("inconsistent state after failed cleanup")
		respond(w, http.StatusInternalServerError, "Something went wrong, please try again later")

	case errors.As(err, &verr):
		utils.JSONResponse(w, http.StatusUnprocessableEntity, utils.Payload{
			Success: false,
			Message: "Invalid input",
			Errors:  verr.Fields,
		})

	case errors.Is(err, apperrors.ErrValidation):
		respond(w, http.StatusBadRequest, capitalize(strings.TrimPrefix(err.Error(), apperrors.ErrValidation.Error()+": ")))

	case errors.Is(err, apperrors.ErrEmailAlreadyExists):
		h.log.Debug().Str("path", r.URL.Path).Msg("email already registered")
		respond(w, http.StatusConflict, "User already exists with this email")

	case errors.Is(err, apperrors.ErrForbidden):
		respond(w, http.StatusForbidden, "Forbidden")

	case errors.Is(err, apperrors.ErrExpiredCredential):
		respond(w, http.StatusUnauthorized, "Session expired")

	case errors.Is(err, apperrors.ErrInvalidCredential):
		respond(w, http.StatusUnauthorized, "Invalid credentials")

	case errors.Is(err, apperrors.ErrNotFound):
		respond(w, http.StatusNotFound, "Not found")

	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("request timed out")
		respond(w, http.StatusGatewayTimeout, "Request timed out, please retry")

	case errors.Is(err, apperrors.ErrStorage), errors.Is(err, apperrors.ErrPersistence):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respond(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")

	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected error")
		respond(w, http.StatusInternalServerError, "Something went wrong, please try again later")
	}
}

func respond(w http.ResponseWriter, status int, message string) {
	utils.JSONResponse(w, status, utils.Payload{
		Success: false,
		Message: message,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
