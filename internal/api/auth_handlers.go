package api

import (
	"encoding/json"
	"net/http"
)

// generateQRRequest is the relying service's QR request.
type generateQRRequest struct {
	ServiceID string `json:"service_id"`
	APIKey    string `json:"service_api_key"`
}

// handleGenerateQR starts an auth flow: POST /api/auth/qr/generate.
func (s *Server) handleGenerateQR(w http.ResponseWriter, r *http.Request) {
	var req generateQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}
	if req.ServiceID == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "service_id and service_api_key are required.")
		return
	}

	grant, err := s.broker.GenerateQR(r.Context(), req.ServiceID, req.APIKey)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// scanQRRequest is the mobile agent's scan submission.
type scanQRRequest struct {
	Token   string `json:"qr_token"`
	AuthKey string `json:"user_auth_key"`
}

// handleScanQR consumes a QR challenge: POST /api/auth/qr/scan.
func (s *Server) handleScanQR(w http.ResponseWriter, r *http.Request) {
	var req scanQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}
	if req.Token == "" || req.AuthKey == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "qr_token and user_auth_key are required.")
		return
	}

	result, err := s.broker.Scan(r.Context(), req.Token, req.AuthKey)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// verifyPINRequest is the relying service's PIN exchange.
type verifyPINRequest struct {
	Token string `json:"qr_token"`
	PIN   string `json:"pin"`
}

// handleVerifyPIN exchanges a PIN for a bearer session:
// POST /api/auth/pin/verify.
func (s *Server) handleVerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req verifyPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}
	if req.Token == "" || req.PIN == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "qr_token and pin are required.")
		return
	}

	grant, err := s.broker.Verify(r.Context(), req.Token, req.PIN)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// handleValidateSession checks a bearer session:
// POST /api/auth/validate-session?token=...
func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "token query parameter is required.")
		return
	}

	info, err := s.broker.ValidateSession(r.Context(), token)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleLogout revokes a bearer session: POST /api/auth/logout?token=...
// Idempotent: repeated logouts succeed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "token query parameter is required.")
		return
	}

	if err := s.broker.Logout(r.Context(), token); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully.",
	})
}
