package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jadenk/mailux/pkg/auth"
	"github.com/jadenk/mailux/pkg/email"
)

type credsKey struct{}

// errorResponse is the body of every failed request
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// messageResponse acknowledges a mail operation
type messageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, email.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, email.ErrFetch):
		return http.StatusNotFound
	case errors.Is(err, email.ErrConnection), errors.Is(err, email.ErrCodec):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Debug("Failed to write response")
	}
}

// writeError reports err with a status derived from its kind
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	log := h.logger.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		log.Error(message)
	} else {
		log.Debug(message)
	}
	h.writeJSON(w, status, errorResponse{Message: message, Error: err.Error()})
}

// decodeJSON reads the request body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", email.ErrInvalidArgument, err)
	}
	return nil
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: missing bearer token", auth.ErrUnauthorized)
	}
	return strings.TrimSpace(token), nil
}

// requireSession resolves the bearer token and stores the credentials in
// the request context.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			h.writeError(w, r, "Authentication required", err)
			return
		}
		creds, err := h.sessions.Resolve(token)
		if err != nil {
			h.writeError(w, r, "Invalid or expired session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), credsKey{}, creds)))
	})
}

func credentials(r *http.Request) email.Credentials {
	creds, _ := r.Context().Value(credsKey{}).(email.Credentials)
	return creds
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, errorResponse{Message: "Not found", Error: r.URL.Path})
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "Method not allowed", Error: r.Method})
}
