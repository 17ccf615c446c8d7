package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
)

var reportCmd = &cobra.Command{
	Use:   "report SESSION_ID",
	Short: "Print the attendance report for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	publicID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q", args[0])
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	sessions := postgres.NewSessionRepository(pool)
	ledger := postgres.NewAttendanceRepository(pool)

	ctx := context.Background()
	session, err := sessions.GetByPublicID(ctx, publicID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session %s not found", publicID)
	}

	state := "active"
	if !session.Active {
		state = "ended"
	}
	fmt.Printf("Course:  %s\n", session.CourseName)
	fmt.Printf("Teacher: %s\n", session.TeacherID)
	fmt.Printf("Started: %s (%s, %d frames)\n\n",
		session.StartedAt.Format("2006-01-02 15:04"), state, session.FrameCounter)

	rows, err := ledger.Report(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}

	if len(rows) == 0 {
		fmt.Println("No students marked present.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tSTATUS\tCONFIDENCE\tMARKED AT")
	fmt.Fprintln(w, "-------\t----\t------\t----------\t---------")

	for i := range rows {
		r := &rows[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			r.StudentNo, r.FullName, r.Status, r.Confidence,
			r.MarkedAt.Format("15:04:05"))
	}

	w.Flush()

	fmt.Printf("\nTotal: %d present\n", len(rows))

	return nil
}
