package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent attendance sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.Flags().Int("limit", 20, "Number of sessions to show")
}

func runSessions(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	sessions := postgres.NewSessionRepository(postgres.GetGlobalPool())

	list, err := sessions.List(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCOURSE\tTEACHER\tSTARTED\tSTATE\tFRAMES")
	fmt.Fprintln(w, "-------\t------\t-------\t-------\t-----\t------")

	for i := range list {
		s := &list[i]
		state := "active"
		if !s.Active {
			state = "ended"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.PublicID, s.CourseName, s.TeacherID,
			s.StartedAt.Format("2006-01-02 15:04"), state, s.FrameCounter)
	}

	w.Flush()

	fmt.Printf("\nTotal: %d sessions\n", len(list))

	return nil
}
