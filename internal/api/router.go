package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Driver registry
		r.Get("/drivers", s.handleListDrivers)

		// Live instruments
		r.Route("/instruments", func(r chi.Router) {
			r.Get("/", s.handleListInstruments)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetInstrument)
				r.Post("/open", s.handleOpenInstrument)
				r.Post("/close", s.handleCloseInstrument)

				r.Get("/properties/{path}", s.handleGetProperty)
				r.Put("/properties/{path}", s.handleSetProperty)

				r.Get("/cache", s.handleInspectCache)
				r.Post("/cache/clear", s.handleClearCache)
			})
		})

		// Property history
		r.Get("/history", s.handleListHistory)

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
