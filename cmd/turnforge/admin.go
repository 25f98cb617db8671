package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Strob0t/turnforge/internal/adapter/postgres"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/service"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administer the schema and the session event log",
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
			return err
		}
		return printVersion(cmd, cfg.Postgres.DSN)
	},
}

var rollbackSteps int

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if rollbackSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, rollbackSteps); err != nil {
			return err
		}
		return printVersion(cmd, cfg.Postgres.DSN)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return printVersion(cmd, cfg.Postgres.DSN)
	},
}

var (
	replaySession string
	replayJSON    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print a session's stored events in sequence order",
	Example: `  turnforge admin replay --session 3f2a...
  turnforge admin replay --session 3f2a... --json | jq .event_type`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		// Replay only reads, so no sequence allocator is needed.
		events := service.NewEventStore(postgres.NewStore(pool), nil, nil)

		if replayJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			return events.ReplayEvents(ctx, replaySession, func(ev event.StoredEvent) error {
				return enc.Encode(ev)
			})
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tTIMESTAMP\tPROCESSED\tID")
		count := 0
		err = events.ReplayEvents(ctx, replaySession, func(ev event.StoredEvent) error {
			count++
			_, werr := fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
				ev.SequenceNumber, ev.EventType, ev.Timestamp.Format(time.RFC3339Nano), ev.Processed, ev.ID)
			return werr
		})
		if err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d events\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(migrateCmd, rollbackCmd, versionCmd, replayCmd)

	rollbackCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")

	replayCmd.Flags().StringVar(&replaySession, "session", "", "session ID to replay")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print one JSON object per event")
	_ = replayCmd.MarkFlagRequired("session")
}

func printVersion(cmd *cobra.Command, dsn string) error {
	v, err := postgres.MigrationVersion(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
