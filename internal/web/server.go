// Package web hosts the HTTP API: training uploads, session lifecycle,
// frame ingestion and SSE event streams.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/presenceapp/presence/internal/config"
	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/session"
	"github.com/presenceapp/presence/internal/web/middleware"
)

// Server represents the web server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	sessions   *session.Manager
}

// NewServer creates a new web server.
func NewServer(cfg *config.Config, port int, host string, training database.TrainingWriter, attendance database.AttendanceStore, sessions *session.Manager) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		router:   r,
		sessions: sessions,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	s.setupRoutes(training, attendance)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for SSE streams
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops all live sessions and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	if s.sessions != nil {
		if err := s.sessions.StopAll(ctx); err != nil {
			log.Printf("Stopping sessions: %v", err)
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
