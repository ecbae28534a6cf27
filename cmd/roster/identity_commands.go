package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"roster/internal/identity"
	"roster/internal/ingest"
	"roster/internal/store"
)

func newIdentitiesCommand(ctx *commandContext) *cobra.Command {
	identitiesCmd := &cobra.Command{
		Use:     "identities",
		Aliases: []string{"identity"},
		Short:   "Record and inspect accounts from external tools",
	}
	identitiesCmd.AddCommand(
		newIdentityUpsertCommand(ctx),
		newIdentityImportCommand(ctx),
		newIdentityListCommand(ctx),
		newIdentityShowCommand(ctx),
	)
	return identitiesCmd
}

func newIdentityUpsertCommand(ctx *commandContext) *cobra.Command {
	var in identity.IdentityUpsert
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Insert or refresh one identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				ident, err := st.UpsertIdentity(c, orgID, in)
				if err != nil {
					return err
				}
				return printIdentity(cmd, ctx, ident)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.Source, "source", "", "Tool the account lives in (required)")
	flags.StringVar(&in.ExternalID, "external-id", "", "Account id within the source (required)")
	flags.StringVar(&in.Username, "username", "", "Username")
	flags.StringVar(&in.Email, "email", "", "Email address")
	flags.StringVar(&in.DisplayName, "name", "", "Display name")
	flags.BoolVar(&in.IsServiceAccount, "service-account", false, "Exclude the account from matching")
	return cmd
}

func newIdentityImportCommand(ctx *commandContext) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import identities from a YAML or JSON export",
		Long: "Import identities from a YAML or JSON export.\n\n" +
			"The file holds a list of records, or a mapping with an identities list.\n" +
			"Records without a source take --source. Unchanged files are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source = strings.TrimSpace(source)
			if source == "" {
				return identity.Validationf("--source must not be empty")
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				runner := ingest.NewRunner(st, ctx.loggerValue())
				res, err := runner.Run(c, orgID, ingest.NewFileConnector(source, args[0]))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				if res.Skipped {
					fmt.Fprintf(out, "Sync for %s already running; skipped\n", res.Source)
					return nil
				}
				fmt.Fprintf(out, "Imported %d identities from %s (%d errors)\n", res.Upserted, res.Source, res.Errors)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source name for the watermark and records without one (required)")
	return cmd
}

func newIdentityListCommand(ctx *commandContext) *cobra.Command {
	var filter identity.IdentityFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				list, err := st.ListIdentities(c, orgID, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, nonNil(list))
				}
				rows := make([][]string, 0, len(list))
				for _, i := range list {
					rows = append(rows, []string{i.ID, i.Source, i.ExternalID, dash(i.Username), dash(i.Email), yesNo(i.IsServiceAccount)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
					[]string{"ID", "Source", "External ID", "Username", "Email", "Service"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Source, "source", "", "Filter by source")
	addPageFlags(cmd, &filter.Page)
	return cmd
}

func newIdentityShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity-id>",
		Short: "Show one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				ident, err := st.GetIdentity(c, orgID, args[0])
				if err != nil {
					return err
				}
				return printIdentity(cmd, ctx, ident)
			})
		},
	}
}

func printIdentity(cmd *cobra.Command, ctx *commandContext, i identity.Identity) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, i)
	}
	rows := [][]string{
		{"ID", i.ID},
		{"Source", i.Source},
		{"External ID", i.ExternalID},
		{"Username", dash(i.Username)},
		{"Email", dash(i.Email)},
		{"Name", dash(i.DisplayName)},
		{"Service account", yesNo(i.IsServiceAccount)},
		{"First seen", formatTimestamp(i.FirstSeenAt)},
		{"Last seen", formatTimestamp(i.LastSeenAt)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows, nil))
	return nil
}
