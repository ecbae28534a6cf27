package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"roster/internal/identity"
	"roster/internal/store"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and recover sync watermarks",
	}
	syncCmd.AddCommand(newSyncStatusCommand(ctx), newSyncReclaimCommand(ctx))
	return syncCmd
}

func newSyncStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watermarks for the organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				marks, err := st.ListWatermarks(c, orgID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, nonNil(marks))
				}
				rows := make([][]string, 0, len(marks))
				for _, w := range marks {
					rows = append(rows, []string{
						w.Source, string(w.Status), formatOptionalTime(w.LastSyncedAt),
						formatTimestamp(w.UpdatedAt), dash(w.ErrorMessage),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
					[]string{"Source", "Status", "Last synced", "Updated", "Error"}, rows, nil))
				return nil
			})
		},
	}
}

func newSyncReclaimCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Fail running locks that stopped making progress",
		Long: "Fail running locks that stopped making progress.\n\n" +
			"Locks untouched for longer than --older-than (default sync.stale_after_seconds)\n" +
			"are marked failed so the next run can take them. This spans all organizations.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = time.Duration(cfg.Sync.StaleAfterSeconds) * time.Second
			}
			if olderThan <= 0 {
				return identity.Validationf("stale threshold must be positive, got %s", olderThan)
			}
			c := cmd.Context()
			st, err := ctx.openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.ReclaimStaleWatermarks(c, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]int64{"reclaimed": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d stale locks\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Idle time after which a running lock is stale")
	return cmd
}
