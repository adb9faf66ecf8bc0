package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexauth/nexauth-core/internal/ratelimit"
)

// buildRouter assembles the chi router with middleware and routes.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware, outermost first.
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(ratelimit.ClassQR))
				r.Post("/qr/generate", s.handleGenerateQR)
				r.Post("/qr/scan", s.handleScanQR)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(ratelimit.ClassLogin))
				r.Post("/pin/verify", s.handleVerifyPIN)
			})
			r.Post("/validate-session", s.handleValidateSession)
			r.Post("/logout", s.handleLogout)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/operating-hours", s.handleOperatingHours)
			r.Get("/health", s.handleHealth)
			r.Get("/ws", s.handleWebSocket)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(ratelimit.ClassLogin))
				r.Post("/login", s.handleAdminLogin)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.adminAuthMiddleware)
				r.Get("/system/schedule", s.handleGetSchedule)
				r.Get("/system/audit-log", s.handleAuditLog)

				r.Group(func(r chi.Router) {
					r.Use(s.requireSuperAdmin)
					r.Put("/system/operating-hours", s.handleUpdateHours)
					r.Post("/system/toggle", s.handleToggleOverride)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "Route not found.")
	})

	return r
}
