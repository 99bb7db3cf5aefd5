package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dom/studybuddy/internal/api/middleware"
	"github.com/dom/studybuddy/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ErrorBody is the JSON envelope for every non-2xx engine response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Retry is "refresh" when the client should reload state and offer the
	// action again.
	Retry string `json:"retry,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// writeDomainError maps an engine error onto a status code.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal server error")
		return
	}

	detail := ErrorDetail{Code: de.Code, Message: de.Message}
	status := http.StatusInternalServerError
	switch de.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuthorization:
		status = http.StatusForbidden
	case domain.KindNotFound:
		status = http.StatusNotFound
		detail.Retry = "refresh"
	case domain.KindConflict:
		status = http.StatusConflict
		detail.Retry = "refresh"
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// userQuery returns ?userId= if present, else fallback.
func userQuery(w http.ResponseWriter, r *http.Request, fallback uuid.UUID) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		return fallback, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid userId")
		return uuid.Nil, false
	}
	return id, true
}
