// Package httpx holds the JSON response helpers shared by the HTTP
// handlers, including the mapping from error kinds to status codes.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/greenfund/fund-engine/internal/apperr"
)

// errorBody is the JSON error envelope: {"error": {"kind", "message"}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a kinded error response. Unclassified errors surface as
// internal with a generic message so storage details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.Internal {
		msg = "internal error"
	}
	WriteJSON(w, statusFor(kind), errorBody{Error: errorDetail{
		Kind:    string(kind),
		Message: msg,
	}})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Invalid, apperr.InsufficientFunds, apperr.InsufficientShares:
		return http.StatusBadRequest
	case apperr.LimitExceeded, apperr.Conflict:
		return http.StatusConflict
	case apperr.Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
