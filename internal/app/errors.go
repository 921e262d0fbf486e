package app

import (
	"errors"
	"net/http"

	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/domainerr"
)

const desyncMessage = "session desynchronized, please reload"

func statusForKind(kind domainerr.Kind) int {
	switch kind {
	case domainerr.KindValidation:
		return http.StatusBadRequest
	case domainerr.KindNotFound:
		return http.StatusNotFound
	case domainerr.KindConflictState, domainerr.KindTransformDivergence:
		return http.StatusConflict
	case domainerr.KindPermissionDenied:
		return http.StatusForbidden
	case domainerr.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// mapError turns an error into the response envelope fields. Untyped errors
// never leak their text to the client.
func mapError(err error) (status int, code, message string, details any) {
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var typed *domainerr.Error
	if !errors.As(err, &typed) {
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
	if typed.Kind == domainerr.KindTransformDivergence {
		return http.StatusConflict, typed.Code, desyncMessage, nil
	}
	return statusForKind(typed.Kind), typed.Code, typed.Message, typed.Details
}
