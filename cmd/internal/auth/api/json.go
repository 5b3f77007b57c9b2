package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"estate/cmd/internal/auth/session"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeOutcome renders an orchestrator error as one of the coarse client
// outcomes. The detailed reason has already gone to the audit trail.
func writeOutcome(w http.ResponseWriter, err error) {
	switch outcome := session.Outcome(err); outcome {
	case session.OutcomeInvalidCredentials:
		writeError(w, http.StatusUnauthorized, outcome, "invalid email or password")
	case session.OutcomeSessionExpired:
		writeError(w, http.StatusUnauthorized, outcome, "session expired, please log in again")
	case session.OutcomeResetLinkInvalid:
		writeError(w, http.StatusBadRequest, outcome, "link invalid or expired")
	case session.OutcomeInvalidRequest:
		writeError(w, http.StatusBadRequest, outcome, "invalid request")
	case session.OutcomeConflict:
		writeError(w, http.StatusConflict, outcome, "email already registered")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
