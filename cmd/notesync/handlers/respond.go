// Package handlers provides the local REST API and websocket stream served by
// `notesync serve`.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/glidenotes/notesync/internal/db"
	apperrors "github.com/glidenotes/notesync/internal/errors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error code to an HTTP status.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrNetwork, apperrors.ErrServer:
		return http.StatusBadGateway
	case apperrors.ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	if code == "" && stderrors.Is(err, db.ErrNotFound) {
		code = apperrors.ErrNotFound
	}
	if code == "" {
		code = apperrors.ErrInternal
	}
	writeJSON(w, statusFor(code), errorBody{Code: string(code), Message: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
