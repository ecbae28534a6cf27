package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"roster/internal/fileutil"
	"roster/internal/identity"
	"roster/internal/store"
)

func newConflictsCommand(ctx *commandContext) *cobra.Command {
	conflictsCmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Work the queue of links awaiting review",
	}
	conflictsCmd.AddCommand(
		newConflictListCommand(ctx),
		newConflictBulkConfirmCommand(ctx),
		newConflictStatsCommand(ctx),
		newConflictExportCommand(ctx),
	)
	return conflictsCmd
}

func newConflictListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter identity.ConflictFilter
		bounds confidenceFlags
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.MinConfidence, filter.MaxConfidence = bounds.values(cmd)
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				links, err := st.ListConflicts(c, orgID, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, nonNil(links))
				}
				printLinkTable(cmd, links)
				return nil
			})
		},
	}
	addConflictFilterFlags(cmd, &filter, &bounds)
	addPageFlags(cmd, &filter.Page)
	return cmd
}

func newConflictBulkConfirmCommand(ctx *commandContext) *cobra.Command {
	var by, idFile string
	cmd := &cobra.Command{
		Use:   "bulk-confirm [link-id...]",
		Short: "Confirm many conflicts in one transaction",
		Long: "Confirm many conflicts in one transaction.\n\n" +
			"Ids come from the arguments and from --file (one per line, - for stdin).\n" +
			"Ids that are not open conflicts are reported and left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append([]string(nil), args...)
			if idFile != "" {
				fromFile, err := readIDs(cmd, idFile)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				res, err := st.BulkConfirm(c, orgID, ids, by)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Confirmed %d of %d links\n", res.ConfirmedCount, len(ids))
				for _, id := range res.FailedIDs {
					fmt.Fprintf(out, "not an open conflict: %s\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&idFile, "file", "f", "", "Read link ids from a file, one per line (- for stdin)")
	addVerifierFlag(cmd, &by)
	return cmd
}

func newConflictStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the conflict queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				stats, err := st.ConflictStats(c, orgID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				avg := "-"
				if stats.AvgConfidence != nil {
					avg = formatConfidence(*stats.AvgConfidence)
				}
				rows := [][]string{
					{"Open conflicts", fmt.Sprint(stats.Total)},
					{"Average confidence", avg},
					{"Oldest", formatOptionalTime(stats.OldestCreatedAt)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(), []string{"Metric", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newConflictExportCommand(ctx *commandContext) *cobra.Command {
	var (
		filter identity.ConflictFilter
		bounds confidenceFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every matching conflict as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.MinConfidence, filter.MaxConfidence = bounds.values(cmd)
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				links, err := st.ExportConflicts(c, orgID, filter)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return identity.WriteLinksCSV(cmd.OutOrStdout(), links)
				}
				err = fileutil.WriteAtomic(output, 0o644, func(w io.Writer) error {
					return identity.WriteLinksCSV(w, links)
				})
				if err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d conflicts to %s\n", len(links), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	addConflictFilterFlags(cmd, &filter, &bounds)
	return cmd
}

func addConflictFilterFlags(cmd *cobra.Command, filter *identity.ConflictFilter, bounds *confidenceFlags) {
	cmd.Flags().StringVar(&filter.SortBy, "sort", identity.SortAgeDesc,
		fmt.Sprintf("Ordering: %s or %s", identity.SortAgeDesc, identity.SortConfidenceAsc))
	bounds.register(cmd)
}

func readIDs(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, identity.Validationf("open id file: %v", err)
		}
		defer f.Close()
		r = f
	}
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}
	return ids, nil
}
