package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tcgemporium/authcore"
	"go.uber.org/zap"
)

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// writeError maps engine errors to status codes. Bodies for authentication
// failures are constants so responses never reveal which check failed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *authcore.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Field: verr.Field, Reason: verr.Reason})
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, authcore.ErrInvalidCode):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid code"})
	case errors.Is(err, authcore.ErrUnauthenticated),
		errors.Is(err, authcore.ErrAccountNotFound):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, authcore.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, authcore.ErrAccountExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: "account already exists"})
	case errors.Is(err, authcore.ErrMFAAlreadyEnabled):
		writeJSON(w, http.StatusConflict, errorBody{Error: "mfa already enabled"})
	case errors.Is(err, authcore.ErrMFANotPending):
		writeJSON(w, http.StatusConflict, errorBody{Error: "mfa setup not started"})
	case errors.Is(err, authcore.ErrMFANotEnabled):
		writeJSON(w, http.StatusConflict, errorBody{Error: "mfa not enabled"})
	case errors.Is(err, authcore.ErrMFAStateConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "mfa state changed, retry"})
	case errors.Is(err, authcore.ErrMFARateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many attempts"})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxBodyBytes = 1 << 16

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &authcore.ValidationError{Field: "body", Reason: "malformed json"}
	}
	return nil
}
