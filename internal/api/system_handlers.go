package api

import (
	"net/http"
	"time"
)

// handleSystemStatus returns the current window status:
// GET /api/system/status.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.window.Status(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleOperatingHours returns the published schedule without the
// override details: GET /api/system/operating-hours.
func (s *Server) handleOperatingHours(w http.ResponseWriter, r *http.Request) {
	status, err := s.window.Status(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"opening_time": status.OpeningTime,
		"closing_time": status.ClosingTime,
		"timezone":     status.Timezone,
		"is_open":      status.IsOpen,
	})
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth reports service and database health:
// GET /api/system/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Database:  "ok",
		Timestamp: time.Now().UTC(),
	}

	status := http.StatusOK
	if err := s.db.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
