package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/attendance"
	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/constants"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
	"github.com/kozaktomas/facetrack/internal/detector"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Bulk-enroll students from a photo directory",
	Long: `Enroll students from a directory tree. Every subdirectory holds the
photos of one student and is named NUMBER_FULL NAME, for example:

  photos/
    S117_Jane Doe/
      front.jpg
      side.jpg

Photos without exactly one detectable face are skipped; students where
no photo yields a usable face are rejected.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory with one subdirectory per student (required)")
	enrollCmd.Flags().Int("workers", constants.EnrollWorkerPoolSize, "Concurrent enrollments")
	_ = enrollCmd.MarkFlagRequired("dir")
}

// studentDir is one parsed "NUMBER_FULL NAME" subdirectory.
type studentDir struct {
	studentNo string
	fullName  string
	path      string
}

// parseStudentDirs collects valid student subdirectories, warning about
// entries that do not follow the naming convention.
func parseStudentDirs(root string) ([]studentDir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var dirs []studentDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		no, name, ok := strings.Cut(entry.Name(), "_")
		if !ok || no == "" || name == "" {
			fmt.Printf("Skipping %q: expected NUMBER_FULL NAME\n", entry.Name())
			continue
		}
		dirs = append(dirs, studentDir{
			studentNo: no,
			fullName:  name,
			path:      filepath.Join(root, entry.Name()),
		})
	}
	return dirs, nil
}

// readStudentPhotos loads a student's photo files.
func readStudentPhotos(dir string) ([]attendance.NamedImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []attendance.NamedImage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		images = append(images, attendance.NamedImage{Name: entry.Name(), Data: data})
	}
	return images, nil
}

func enrollOne(ctx context.Context, enroller *attendance.Enroller, sd studentDir, enrolled, photosUsed *int64) error {
	images, err := readStudentPhotos(sd.path)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return errors.New("no photos found")
	}

	result, err := enroller.Enroll(ctx, sd.studentNo, sd.fullName, images)
	if err != nil {
		return err
	}

	atomic.AddInt64(enrolled, 1)
	atomic.AddInt64(photosUsed, int64(result.Accepted))
	return nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	workers := mustGetInt(cmd, "workers")
	if workers < 1 {
		workers = 1
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	students := postgres.NewStudentRepository(pool)
	embeddings := postgres.NewEmbeddingRepository(pool)

	det, err := detector.NewClient(&cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to create detector client: %w", err)
	}
	enroller := attendance.NewEnroller(students, embeddings, det, nil, cfg.Recognition.EmbeddingDim)

	dirs, err := parseStudentDirs(dir)
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		fmt.Println("No student directories found.")
		return nil
	}

	fmt.Printf("Enrolling %d students with %d workers\n\n", len(dirs), workers)
	bar := progressbar.NewOptions(len(dirs),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	ctx := context.Background()
	var enrolled, photosUsed int64
	var mu sync.Mutex
	var failures []string

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, sd := range dirs {
		wg.Add(1)
		go func(sd studentDir) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := enrollOne(ctx, enroller, sd, &enrolled, &photosUsed); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s (%s): %v", sd.studentNo, sd.fullName, err))
				mu.Unlock()
			}
			_ = bar.Add(1)
		}(sd)
	}
	wg.Wait()
	fmt.Println()

	fmt.Printf("\nEnrolled %d students from %d photos\n", enrolled, photosUsed)
	if len(failures) > 0 {
		fmt.Printf("%d failed:\n", len(failures))
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
	}
	return nil
}
