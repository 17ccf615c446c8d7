package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/web/handlers"
	"github.com/kozaktomas/facetrack/internal/web/middleware"
)

// janitorInterval is how often the idle-session sweep runs.
const janitorInterval = time.Minute

// Stores bundles the persistence interfaces the API serves from.
type Stores struct {
	Students   database.StudentStore
	Embeddings database.EmbeddingStore
	Sessions   database.SessionStore
	Detections database.DetectionStore
	Attendance database.AttendanceStore
}

// Server represents the web server
type Server struct {
	config      *config.Config
	router      *chi.Mux
	httpServer  *http.Server
	hub         *handlers.EventHub
	janitorStop chan struct{}
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, port int, host string, stores Stores, pipeline *attendance.Pipeline, enroller *attendance.Enroller) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		router: r,
		hub:    handlers.NewEventHub(),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS())

	// Set up routes
	s.setupRoutes(stores, pipeline, enroller)

	// End sessions whose capture client went away without calling end
	s.startJanitor(stores.Sessions)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for SSE and uploads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	// Stop the idle-session sweep goroutine
	if s.janitorStop != nil {
		close(s.janitorStop)
		s.janitorStop = nil
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// startJanitor runs a background sweep that ends sessions with no frames
// for longer than the configured idle timeout. Disabled when the timeout
// is zero.
func (s *Server) startJanitor(sessions database.SessionStore) {
	timeout := s.config.Web.IdleSessionTimeout()
	if timeout <= 0 {
		return
	}

	s.janitorStop = make(chan struct{})
	stop := s.janitorStop
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				now := time.Now()
				ended, err := sessions.EndIdle(ctx, now.Add(-timeout), now)
				cancel()
				if err != nil {
					log.Printf("idle session sweep failed: %v", err)
				} else if ended > 0 {
					log.Printf("Ended %d idle sessions", ended)
				}
			}
		}
	}()
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
