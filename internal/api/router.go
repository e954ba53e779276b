package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// Reads are open; mutating routes sit behind the auth middleware,
// which is a pass-through when no auth secret is configured.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/"+s.serviceName, func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/ping", s.handlePing)

		// Process endpoints
		r.Route("/process", func(r chi.Router) {
			r.Get("/", s.handleListProcesses)
			r.Get("/{id}", s.handleGetProcess)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/", s.handleCreateProcess)
				r.Delete("/{id}", s.handleDeleteProcess)
			})
		})

		// Task endpoints
		r.Route("/task", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/", s.handleCreateTask)
				r.Patch("/{id}", s.handleUpdateTask)
				r.Delete("/{id}", s.handleDeleteTask)
			})
		})

		// Step jump submission (mutating)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/jump", s.handleJump)
		})

		// WebSocket (token via query parameter, validated in middleware)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handlePing returns the server health status.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.serviceName,
		"version": s.version,
	})
}
