// Package handlers exposes the moderation core as a JSON API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"studyhall/internal/middleware"
	"studyhall/internal/moderation"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds handler configuration options
type Config struct {
	// AuditPageSize is the default number of audit entries returned
	AuditPageSize int

	// NotificationPageSize is the default number of notifications returned
	NotificationPageSize int
}

// Handler contains all HTTP handler methods and their dependencies.
// Dependencies are injected via the constructor for better testability.
type Handler struct {
	svc    *moderation.Service
	config Config
}

// NewHandler creates a new Handler backed by the moderation service
func NewHandler(svc *moderation.Service, config Config) *Handler {
	if config.AuditPageSize <= 0 {
		config.AuditPageSize = 50
	}
	if config.NotificationPageSize <= 0 {
		config.NotificationPageSize = 20
	}
	return &Handler{svc: svc, config: config}
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// requireUser returns the acting user's email, or writes 401 and returns ""
func requireUser(w http.ResponseWriter, r *http.Request) string {
	email := middleware.UserEmailFromContext(r.Context())
	if email == "" {
		writeJSONStatus(w, http.StatusUnauthorized, errorResponse{Status: "error", Message: "Authentication required"}, "error")
	}
	return email
}

// decodeJSON decodes the request body into target, writing 400 or 413 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONStatus(w, http.StatusRequestEntityTooLarge, errorResponse{Status: "error", Message: "Request body too large"}, "error")
			return false
		}
		writeJSONStatus(w, http.StatusBadRequest, errorResponse{Status: "error", Message: "Invalid JSON body"}, "error")
		return false
	}
	return true
}

// writeJSON encodes and writes a 200 JSON response
func writeJSON(w http.ResponseWriter, v any, entityName string) {
	writeJSONStatus(w, http.StatusOK, v, entityName)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any, entityName string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode " + entityName + " response")
	}
}

// requestLogger returns the logger attached by the logging middleware, or
// the global logger outside of it
func requestLogger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// writeError maps a service error to a status code and user-facing message
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Status: "error", Message: err.Error()}
	status := http.StatusInternalServerError

	var banned *moderation.BannedError
	var validation *moderation.ValidationError
	var maxErr *http.MaxBytesError

	switch {
	case errors.As(err, &banned):
		status = http.StatusForbidden
		until := banned.Until.UTC()
		resp.BannedUntil = &until
		resp.Reason = banned.Reason
		resp.Message = fmt.Sprintf("You are banned until %s", until.Format(time.RFC1123))
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, moderation.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, moderation.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, moderation.ErrAlreadyResolved), errors.Is(err, moderation.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, moderation.ErrNoHigherAuthority):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		requestLogger(r).Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		resp.Message = "Internal server error"
	}

	writeJSONStatus(w, status, resp, "error")
}

type okResponse struct {
	Status string `json:"status"`
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, okResponse{Status: "ok"}, "status")
}
