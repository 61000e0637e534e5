package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"motolog.org/internal/auth"
	"motolog.org/internal/budget"
	"motolog.org/internal/obs"
)

const retryAfterSeconds = "5"

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps auth failures to responses. Credential and token
// failures share one status so callers learn nothing about which check failed.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrMissingToken):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
	case auth.IsTokenError(err), errors.Is(err, auth.ErrSubjectNotFound):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrStoreUnavailable):
		unavailable(w, r, err)
	default:
		internalError(w, r, err)
	}
}

func handleBudgetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, budget.ErrInvalidMonths):
		writeError(w, r, http.StatusBadRequest, "months_ahead must be between 1 and 24")
	case errors.Is(err, budget.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, budget.ErrInvalidInput))
	case errors.Is(err, budget.ErrVehicleNotFound):
		writeError(w, r, http.StatusNotFound, "vehicle not found")
	case errors.Is(err, budget.ErrRuleNotFound):
		writeError(w, r, http.StatusNotFound, "reminder not found")
	case errors.Is(err, budget.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient vehicle permissions")
	case errors.Is(err, budget.ErrStoreUnavailable):
		unavailable(w, r, err)
	default:
		internalError(w, r, err)
	}
}

// publicMessage strips the sentinel prefix from a wrapped validation error.
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	if msg == sentinel.Error() {
		return "invalid input"
	}
	return msg
}

func unavailable(w http.ResponseWriter, r *http.Request, err error) {
	obs.Log("error", "store_unavailable", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err,
	})
	w.Header().Set("Retry-After", retryAfterSeconds)
	writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Log("error", "internal_error", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err,
	})
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
