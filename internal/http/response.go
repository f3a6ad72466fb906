package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/taxi-dispatch/internal/models"
)

type errorBody struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {"error": kind, "message": text}. Unknown errors
// are logged and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: br.kind, Message: br.msg, Details: br.details})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.requestLogger(r.Context()).Error("request failed", "route", routeTemplate(r), "error", err)
		writeJSON(w, status, errorBody{Error: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: models.Kind(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidLocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrDuplicateActiveOrder),
		errors.Is(err, models.ErrRoleConflict),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotAvailable),
		errors.Is(err, models.ErrAlreadyTaken),
		errors.Is(err, models.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidTariff),
		errors.Is(err, models.ErrInvalidRole),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidPrice),
		errors.Is(err, models.ErrInvalidPhone):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
