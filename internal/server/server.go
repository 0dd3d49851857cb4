// Package server exposes the REST API and the two websocket paths: the
// execution path (per-session code runs) and the presence path (rooms,
// signaling, chat).
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coderoom/coderoom/internal/config"
	"github.com/coderoom/coderoom/internal/language"
	"github.com/coderoom/coderoom/internal/presence"
	"github.com/coderoom/coderoom/internal/sandbox"
	"github.com/coderoom/coderoom/internal/session"
	"github.com/coderoom/coderoom/internal/storage"
)

// Server is the HTTP server for the coderoom API.
type Server struct {
	cfg        *config.Config
	languages  *language.Registry
	sessions   *session.Directory
	supervisor *sandbox.Supervisor
	presence   *presence.Directory
	store      storage.Store // nil disables execution history
	hub        *execHub
	router     chi.Router
	http       *http.Server
}

// New creates a new Server. store may be nil.
func New(
	cfg *config.Config,
	languages *language.Registry,
	sessions *session.Directory,
	supervisor *sandbox.Supervisor,
	presenceDir *presence.Directory,
	store storage.Store,
) *Server {
	s := &Server{
		cfg:        cfg,
		languages:  languages,
		sessions:   sessions,
		supervisor: supervisor,
		presence:   presenceDir,
		store:      store,
		hub:        newExecHub(),
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			// Sessions
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Get("/sessions/{id}/executions", s.handleListExecutions)

			// Languages
			r.Get("/languages", s.handleListLanguages)
		})

		// WebSockets (no JSON content-type)
		r.Get("/sessions/{id}/ws", s.handleExecSocket)
		r.Get("/rooms/ws", s.handleRoomSocket)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("coderoom server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")
	s.supervisor.CloseAll()
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
