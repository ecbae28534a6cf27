package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"roster/internal/ingest"
	"roster/internal/reconcile"
	"roster/internal/store"
)

// matchingLockSource is the watermark source that serializes exclusive runs.
const matchingLockSource = "identity_matching"

func newMatchCommand(ctx *commandContext) *cobra.Command {
	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Match identities to people",
	}
	matchCmd.AddCommand(newMatchRunCommand(ctx))
	return matchCmd
}

func newMatchRunCommand(ctx *commandContext) *cobra.Command {
	var exclusive bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Match every unlinked identity to a person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exclusive = exclusive || cfg.Matching.ExclusiveRuns
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				logger := ctx.loggerValue()
				driver, err := reconcile.New(st, cfg.MatchingConfig(), logger)
				if err != nil {
					return err
				}

				var res reconcile.Result
				ran := true
				if exclusive {
					ran, err = ingest.NewGuard(st, logger).Exclusive(c, orgID, matchingLockSource,
						func(c context.Context, cursor string) (string, error) {
							var runErr error
							res, runErr = driver.Run(c, orgID)
							return cursor, runErr
						})
				} else {
					res, err = driver.Run(c, orgID)
				}
				if err != nil {
					return err
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, struct {
						reconcile.Result
						Skipped bool `json:"skipped"`
					}{res, !ran})
				}
				out := cmd.OutOrStdout()
				if !ran {
					fmt.Fprintln(out, "Another matching run holds the lock; skipped")
					return nil
				}
				rows := [][]string{
					{"Candidates", fmt.Sprint(res.Candidates)},
					{"People created", fmt.Sprint(res.PeopleCreated)},
					{"Links created", fmt.Sprint(res.LinksCreated)},
					{"Auto", fmt.Sprint(res.Auto)},
					{"Conflict", fmt.Sprint(res.Conflict)},
					{"Rejected", fmt.Sprint(res.Rejected)},
					{"Unchanged", fmt.Sprint(res.Unchanged)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "Hold the matching lock for the run (default matching.exclusive_runs)")
	return cmd
}
