package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/web/handlers"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

func (s *Server) setupRoutes(stores Stores, pipeline *attendance.Pipeline, enroller *attendance.Enroller) {
	captures := middleware.NewCaptureTokens(s.config.Web.CaptureSecret)
	auth := middleware.NewAuthenticator(s.config.Web.APIToken, captures)

	// Create handlers
	statsHandler := handlers.NewStatsHandler(stores.Students, stores.Embeddings, stores.Sessions, stores.Detections, stores.Attendance)
	sessionsHandler := handlers.NewSessionsHandler(stores.Sessions, stores.Attendance, pipeline, captures, s.hub)
	framesHandler := handlers.NewFramesHandler(pipeline, s.hub)
	eventsHandler := handlers.NewEventsHandler(stores.Sessions, s.hub)
	studentsHandler := handlers.NewStudentsHandler(stores.Students, enroller, statsHandler)
	configHandler := handlers.NewConfigHandler(s.config)

	// Health check and Prometheus metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Authenticate)

		// Capture clients reach only their own session's ingest and feed.
		// Every ingest holds a detector call in flight, so cap how many run
		// at once.
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Throttle(s.config.Web.FrameConcurrency))
			r.Post("/sessions/{sessionID}/frames", framesHandler.Ingest)
		})
		r.Get("/sessions/{sessionID}/events", eventsHandler.Stream)

		// Everything else requires the teacher role
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireTeacher)

			// Sessions
			r.Post("/sessions", sessionsHandler.Start)
			r.Get("/sessions", sessionsHandler.List)
			r.Get("/sessions/{sessionID}", sessionsHandler.Get)
			r.Post("/sessions/{sessionID}/end", sessionsHandler.End)
			r.Get("/sessions/{sessionID}/report", sessionsHandler.Report)

			// Students
			r.Post("/students", studentsHandler.Enroll)
			r.Get("/students", studentsHandler.List)
			r.Get("/students/{studentNo}", studentsHandler.Get)
			r.Delete("/students/{studentNo}", studentsHandler.Delete)
			r.Post("/students/{studentNo}/embeddings", studentsHandler.AddEmbedding)

			// Config
			r.Get("/config", configHandler.Get)

			// Stats
			r.Get("/stats", statsHandler.Get)
		})
	})
}
