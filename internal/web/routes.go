package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/web/handlers"
)

func (s *Server) setupRoutes(training database.TrainingWriter, attendance database.AttendanceStore) {
	trainingHandler := handlers.NewTrainingHandler(training, attendance, s.config.Detector.Dim)
	sessionHandler := handlers.NewSessionHandler(s.sessions)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1/projects/{user}/{project}", func(r chi.Router) {
		// Training
		r.Post("/training/embeddings", trainingHandler.SaveEmbeddings)
		r.Get("/training/quality", trainingHandler.GetQuality)
		r.Get("/training/confusions", trainingHandler.GetConfusions)

		// Live recognition sessions
		r.Post("/session/start", sessionHandler.Start)
		r.Post("/session/stop", sessionHandler.Stop)
		r.Get("/session/status", sessionHandler.Status)
		r.Post("/session/frames", sessionHandler.Frame)
		r.Get("/session/events", sessionHandler.Events)
	})
}
