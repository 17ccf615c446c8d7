package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
	"github.com/kozaktomas/facetrack/internal/detector"
	"github.com/kozaktomas/facetrack/internal/recognition"
	"github.com/kozaktomas/facetrack/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance server",
	Long: `Start the facetrack server.
The server accepts camera frames for running sessions, matches detected
faces against enrolled students and records attendance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// buildMatcher creates the matcher for the configured backend. The returned
// index is non-nil only for the hnsw matcher; the enroller rebuilds it after
// writes.
func buildMatcher(ctx context.Context, cfg *config.RecognitionConfig, embeddings database.EmbeddingStore) (recognition.Matcher, *recognition.Index, error) {
	switch cfg.Matcher {
	case "pgvector":
		fmt.Println("Using pgvector matcher (nearest neighbor in PostgreSQL)")
		return recognition.NewPgVector(embeddings, cfg.DistanceThreshold, cfg.EmbeddingDim), nil, nil
	case "hnsw":
		fmt.Println("Building in-memory HNSW index for face matching...")
		index := recognition.NewIndex(cfg.DistanceThreshold, cfg.EmbeddingDim)
		if err := index.Build(ctx, embeddings); err != nil {
			return nil, nil, fmt.Errorf("building hnsw index: %w", err)
		}
		fmt.Printf("HNSW index built with %d embeddings\n", index.Count())
		return index, index, nil
	default:
		fmt.Println("Using brute-force matcher")
		return recognition.NewBruteForce(embeddings, cfg.DistanceThreshold, cfg.EmbeddingDim), nil, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	students := postgres.NewStudentRepository(pool)
	embeddings := postgres.NewEmbeddingRepository(pool)
	sessions := postgres.NewSessionRepository(pool)
	detections := postgres.NewDetectionRepository(pool)
	ledger := postgres.NewAttendanceRepository(pool)

	matcher, index, err := buildMatcher(context.Background(), &cfg.Recognition, embeddings)
	if err != nil {
		return err
	}

	det, err := detector.NewClient(&cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to create detector client: %w", err)
	}

	liveness := recognition.NewLivenessCheck(cfg.Recognition.MinVariance)
	pipeline := attendance.NewPipeline(sessions, students, detections, ledger, matcher, liveness, det, &cfg.Recognition)
	enroller := attendance.NewEnroller(students, embeddings, det, index, cfg.Recognition.EmbeddingDim)

	stores := web.Stores{
		Students:   students,
		Embeddings: embeddings,
		Sessions:   sessions,
		Detections: detections,
		Attendance: ledger,
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, stores, pipeline, enroller)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting facetrack server on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
