package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"roster/internal/identity"
	"roster/internal/store"
)

func newLinksCommand(ctx *commandContext) *cobra.Command {
	linksCmd := &cobra.Command{
		Use:     "links",
		Aliases: []string{"link"},
		Short:   "Review identity links",
	}
	linksCmd.AddCommand(
		newLinkListCommand(ctx),
		newLinkShowCommand(ctx),
		newLinkConfirmCommand(ctx),
		newLinkRemapCommand(ctx),
		newLinkSplitCommand(ctx),
		newLinkEventsCommand(ctx),
		newLinkTraceCommand(ctx),
	)
	return linksCmd
}

func newLinkListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter identity.LinkFilter
		status string
		bounds confidenceFlags
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = identity.LinkStatus(status)
			filter.MinConfidence, filter.MaxConfidence = bounds.values(cmd)
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				links, err := st.ListLinks(c, orgID, filter)
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
	flags := cmd.Flags()
	flags.StringVar(&status, "status", "", "Filter by status (auto, conflict, verified, rejected)")
	flags.StringVar(&filter.PersonID, "person", "", "Filter by person id")
	flags.StringVar(&filter.IdentityID, "identity", "", "Filter by identity id")
	flags.BoolVar(&filter.IncludeClosed, "all", false, "Include closed links")
	bounds.register(cmd)
	addPageFlags(cmd, &filter.Page)
	return cmd
}

func newLinkShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <link-id>",
		Short: "Show one link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				link, err := st.GetLink(c, orgID, args[0])
				if err != nil {
					return err
				}
				return printLink(cmd, ctx, link)
			})
		},
	}
}

func newLinkConfirmCommand(ctx *commandContext) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "confirm <link-id>",
		Short: "Mark a link as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				link, err := st.ConfirmLink(c, orgID, args[0], by)
				if err != nil {
					return err
				}
				return printLink(cmd, ctx, link)
			})
		},
	}
	addVerifierFlag(cmd, &by)
	return cmd
}

func newLinkRemapCommand(ctx *commandContext) *cobra.Command {
	var by, personID string
	cmd := &cobra.Command{
		Use:   "remap <link-id>",
		Short: "Move an identity to a different person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				link, err := st.RemapLink(c, orgID, args[0], personID, by)
				if err != nil {
					return err
				}
				return printLink(cmd, ctx, link)
			})
		},
	}
	cmd.Flags().StringVar(&personID, "to", "", "Person id to move the identity to (required)")
	addVerifierFlag(cmd, &by)
	return cmd
}

func newLinkSplitCommand(ctx *commandContext) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "split <link-id>",
		Short: "Send a link back to the conflict queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				link, err := st.SplitLink(c, orgID, args[0], by)
				if err != nil {
					return err
				}
				return printLink(cmd, ctx, link)
			})
		},
	}
	addVerifierFlag(cmd, &by)
	return cmd
}

func newLinkEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events <link-id>",
		Short: "Show the audit trail of a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				events, err := st.ListEvents(c, orgID, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, nonNil(events))
				}
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					payload := "-"
					if len(e.Payload) > 0 {
						payload = string(e.Payload)
					}
					rows = append(rows, []string{formatTimestamp(e.CreatedAt), e.Action, e.Actor, payload})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
					[]string{"When", "Action", "Actor", "Payload"}, rows, nil))
				return nil
			})
		},
	}
}

func newLinkTraceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <link-id>",
		Short: "Print the scorer trace recorded when the link was created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				link, err := st.GetLink(c, orgID, args[0])
				if err != nil {
					return err
				}
				if len(link.Trace) == 0 {
					return identity.NotFoundf("link %s has no rule trace", link.ID)
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, link.Trace, "", "  "); err != nil {
					return identity.Internalf("decode rule trace: %v", err)
				}
				buf.WriteByte('\n')
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			})
		},
	}
}

func printLink(cmd *cobra.Command, ctx *commandContext, l identity.Link) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, l)
	}
	rows := [][]string{
		{"ID", l.ID},
		{"Person", l.PersonID},
		{"Identity", l.IdentityID},
		{"Status", string(l.Status)},
		{"Confidence", formatConfidence(l.Confidence)},
		{"Valid from", formatTimestamp(l.ValidFrom)},
		{"Valid to", formatOptionalTime(l.ValidTo)},
		{"Verified by", dash(l.VerifiedBy)},
		{"Verified at", formatOptionalTime(l.VerifiedAt)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows, nil))
	return nil
}

func printLinkTable(cmd *cobra.Command, links []identity.Link) {
	rows := make([][]string, 0, len(links))
	for _, l := range links {
		rows = append(rows, []string{
			l.ID, l.PersonID, l.IdentityID, string(l.Status),
			formatConfidence(l.Confidence), formatTimestamp(l.CreatedAt),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
		[]string{"ID", "Person", "Identity", "Status", "Confidence", "Created"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
}

// addVerifierFlag registers --by, defaulting to $ROSTER_USER then $USER.
func addVerifierFlag(cmd *cobra.Command, by *string) {
	def := os.Getenv("ROSTER_USER")
	if def == "" {
		def = os.Getenv("USER")
	}
	cmd.Flags().StringVar(by, "by", def, "Reviewer recorded on the decision")
}

// confidenceFlags holds optional --min-confidence/--max-confidence bounds.
// Unset flags stay nil so 0.0 remains a usable bound.
type confidenceFlags struct {
	min, max float64
}

func (f *confidenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.min, "min-confidence", 0, "Lowest confidence to include (0.0-1.0)")
	cmd.Flags().Float64Var(&f.max, "max-confidence", 1, "Highest confidence to include (0.0-1.0)")
}

func (f *confidenceFlags) values(cmd *cobra.Command) (minConf, maxConf *float64) {
	if cmd.Flags().Changed("min-confidence") {
		v := f.min
		minConf = &v
	}
	if cmd.Flags().Changed("max-confidence") {
		v := f.max
		maxConf = &v
	}
	return minConf, maxConf
}
