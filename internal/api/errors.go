package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexauth/nexauth-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeServiceClosed   = "service_closed"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInvalidService  = "invalid_service"
	ErrCodeInvalidUser     = "invalid_user"
	ErrCodeUnknownToken    = "unknown_token"
	ErrCodeTokenExpired    = "token_expired"
	ErrCodeAlreadyScanned  = "already_scanned"
	ErrCodeNotYetScanned   = "not_yet_scanned"
	ErrCodeAlreadyVerified = "already_verified"
	ErrCodeInvalidPin      = "invalid_pin"
	ErrCodeInvalidSession  = "invalid_session"
	ErrCodeSessionExpired  = "session_expired"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceClosed writes a 503 error response.
func writeServiceClosed(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeServiceClosed,
		"Service window is closed.")
}

// writeTooManyRequests writes a 429 error response with Retry-After.
func writeTooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited,
		"Too many requests. Try again later.")
}

// writeDomainError maps broker sentinel errors to HTTP responses.
// Unknown errors become 500 without leaking internals.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrServiceClosed):
		writeServiceClosed(w)
	case errors.Is(err, auth.ErrRateLimited):
		writeTooManyRequests(w, time.Second)
	case errors.Is(err, auth.ErrInvalidService):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidService, "Invalid service credentials.")
	case errors.Is(err, auth.ErrInvalidPin):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidPin, "Invalid PIN.")
	case errors.Is(err, auth.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidUser, "Invalid auth key.")
	case errors.Is(err, auth.ErrUnknownToken):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownToken, "Unknown QR token.")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, ErrCodeTokenExpired, "QR token has expired.")
	case errors.Is(err, auth.ErrAlreadyScanned):
		writeError(w, http.StatusBadRequest, ErrCodeAlreadyScanned, "QR token already scanned.")
	case errors.Is(err, auth.ErrNotYetScanned):
		writeError(w, http.StatusBadRequest, ErrCodeNotYetScanned, "QR token not yet scanned.")
	case errors.Is(err, auth.ErrAlreadyVerified):
		writeError(w, http.StatusBadRequest, ErrCodeAlreadyVerified, "QR token already verified.")
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeSessionExpired, "Session has expired.")
	case errors.Is(err, auth.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidSession, "Invalid session.")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials.")
	case errors.Is(err, auth.ErrNotFound):
		writeNotFound(w, "Resource not found.")
	default:
		s.logger.Error("internal error", "error", err)
		writeInternalError(w, "Internal server error.")
	}
}
