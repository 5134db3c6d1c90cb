// Package handler exposes the HTTP surface over the services.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
)

// envelope is the uniform JSON response shape.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

// respondError maps a classified error onto the envelope. Internal
// causes are logged, never returned to the client.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.StatusOf(err)
	if status >= 500 {
		logger.Error("request failed", "status", status, "error", err)
	}
	body := envelope{Success: false, Error: apperr.MessageOf(err), Code: apperr.CodeOf(err)}
	if ae, ok := apperr.As(err); ok {
		body.Details = ae.Details
	}
	respondJSON(w, status, body)
}

var errBadBody = apperr.Validation("Invalid request body")

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

// pathUUID parses a UUID route parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid %s", name)
	}
	return id, nil
}

// pathInt parses an integer route parameter.
func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, apperr.Validation("Invalid %s", name)
	}
	return n, nil
}

// optionalUUIDQuery parses an optional UUID query parameter.
func optionalUUIDQuery(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("Invalid %s", name)
	}
	return &id, nil
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// pagination parses limit/offset query parameters. Out-of-range values
// are rejected, not clamped.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 || n > maxPageLimit {
			return 0, 0, apperr.Validation("limit must be between 1 and %d", maxPageLimit)
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return 0, 0, apperr.Validation("offset must be non-negative")
		}
		offset = n
	}
	return limit, offset, nil
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("Invalid %s", name)
	}
	return n, nil
}
