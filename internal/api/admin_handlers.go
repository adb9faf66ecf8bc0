package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/auth"
	"github.com/nexauth/nexauth-core/internal/schedule"
)

// adminLoginRequest is the admin credential submission.
type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminLoginResponse carries the issued admin token.
type adminLoginResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAdminLogin issues an admin JWT: POST /api/admin/login.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "username and password are required.")
		return
	}

	admin, err := auth.Authenticate(r.Context(), s.admins, req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	token, err := auth.GenerateAdminToken(admin, s.jwtSecret, s.adminTTL, now)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if err := s.admins.UpdateLastLogin(r.Context(), admin.ID, now); err != nil {
		s.logger.Warn("updating admin last login failed", "admin_id", admin.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, adminLoginResponse{
		Token:     token,
		Role:      admin.Role,
		ExpiresAt: now.Add(s.adminTTL),
	})
}

// handleGetSchedule returns the full window status including override
// details: GET /api/admin/system/schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	status, err := s.window.Status(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleUpdateHours replaces the operating hours:
// PUT /api/admin/system/operating-hours. Requires super_admin.
func (s *Server) handleUpdateHours(w http.ResponseWriter, r *http.Request) {
	var update schedule.HoursUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}
	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	claims := adminFromContext(r.Context())
	status, err := s.window.UpdateHours(r.Context(), claims.Subject, update)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// toggleRequest is the manual override mutation. Status is "open",
// "closed" or "auto" (restore the schedule); DurationMinutes > 0 arms
// automatic expiry.
type toggleRequest struct {
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// handleToggleOverride sets or clears a manual override:
// POST /api/admin/system/toggle. Requires super_admin.
func (s *Server) handleToggleOverride(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON body.")
		return
	}

	claims := adminFromContext(r.Context())

	var (
		status *schedule.Status
		err    error
	)
	switch req.Status {
	case "open":
		status, err = s.window.SetOverride(r.Context(), claims.Subject, true, req.Reason, req.DurationMinutes)
	case "closed":
		status, err = s.window.SetOverride(r.Context(), claims.Subject, false, req.Reason, req.DurationMinutes)
	case "auto":
		status, err = s.window.ClearOverride(r.Context(), claims.Subject, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "status must be open, closed or auto.")
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAuditLog returns a page of schedule audit entries:
// GET /api/admin/system/audit-log?action=&limit=&offset=.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Action: r.URL.Query().Get("action"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer.")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "offset must be a non-negative integer.")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
