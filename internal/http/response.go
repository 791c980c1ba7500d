package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"finman/internal/auth"
	"finman/internal/chart"
	"finman/internal/core"
	"finman/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps the error taxonomy to a status code and a message safe
// to show the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrEmptyResult):
		return http.StatusNotFound, core.ErrEmptyResult.Error()
	case errors.Is(err, core.ErrOutOfRange):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, chart.ErrNoChartData):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, core.ErrCorruptStore):
		return http.StatusInternalServerError, "ledger document is corrupt"
	case errors.Is(err, core.ErrPersistFailed):
		return http.StatusServiceUnavailable, "could not save ledger"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs server-side failures and answers with a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).LogError(r.Context(), "Request failed", err, op, nil)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="finman"`)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
