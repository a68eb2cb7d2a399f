package main

import (
	"fmt"

	"github.com/metalagman/pilotsim/internal/db"
	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
	}
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsTimelineCmd())
	cmd.AddCommand(sessionsPruneCmd())
	return cmd
}

func sessionsPruneCmd() *cobra.Command {
	var (
		dryRun   bool
		keepLast int
		keepDays int
	)
	cmd := &cobra.Command{
		Use:          "prune",
		Short:        "Delete old closed sessions using the retention policy",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := retentionPolicy(appConfig)
			if cmd.Flags().Changed("keep-last") {
				policy.KeepLast = keepLast
			}
			if cmd.Flags().Changed("keep-days") {
				policy.KeepDays = keepDays
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("retention policy is empty; set retention.keep_last or retention.keep_days")
			}
			conn, closeFn, err := openDB(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := db.NewStore(conn).PruneSessions(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted")
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep this many newest sessions")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep sessions created within this many days")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "show <session-id>",
		Short:        "Show a recorded session",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, closeFn, err := openDB(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer closeFn()
			rec, err := db.NewStore(conn).GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func sessionsTimelineCmd() *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:          "timeline <session-id>",
		Short:        "Print the radio timeline of a recorded session",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, closeFn, err := openDB(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer closeFn()
			store := db.NewStore(conn)
			if _, err := store.GetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			timeline, err := store.Timeline(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !withEvents {
				return printJSON(cmd.OutOrStdout(), timeline)
			}
			events, err := store.Events(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"transmissions": timeline,
				"events":        events,
			})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "include session events")
	return cmd
}
