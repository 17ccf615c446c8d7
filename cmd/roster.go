package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
	"github.com/kozaktomas/facetrack/internal/roster"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Work with the school information system roster",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import student identities from the school system",
	Long: `Import students from the school information system's MySQL database.
Unknown student numbers become identity-only rows; their embeddings arrive
later through enrollment. Students already in the database are never
modified.`,
	RunE: runRosterImport,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterImportCmd)

	rosterImportCmd.Flags().String("dsn", "", "School system MySQL DSN (defaults to ROSTER_MYSQL_DSN)")
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	dsn := mustGetString(cmd, "dsn")
	if dsn == "" {
		dsn = cfg.Roster.MySQLDSN
	}
	if dsn == "" {
		return errors.New("roster MySQL DSN is required (--dsn or ROSTER_MYSQL_DSN)")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	students := postgres.NewStudentRepository(postgres.GetGlobalPool())

	fmt.Println("Connecting to school information system...")
	reader, err := roster.NewReader(dsn)
	if err != nil {
		return err
	}
	defer reader.Close()

	ctx := context.Background()
	records, err := reader.Students(ctx)
	if err != nil {
		return fmt.Errorf("reading roster: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("Roster is empty, nothing to import.")
		return nil
	}

	fmt.Printf("Found %d students in the roster\n\n", len(records))
	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	result, err := roster.NewImporter(students).Import(ctx, records, func(done, total int) {
		_ = bar.Set(done)
	})
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("\nImported %d new students, %d already known\n", result.Created, result.Skipped)
	return nil
}
