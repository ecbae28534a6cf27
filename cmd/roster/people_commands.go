package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"roster/internal/identity"
	"roster/internal/store"
)

func newPeopleCommand(ctx *commandContext) *cobra.Command {
	peopleCmd := &cobra.Command{
		Use:   "people",
		Short: "Manage canonical people",
	}
	peopleCmd.AddCommand(
		newPeopleCreateCommand(ctx),
		newPeopleListCommand(ctx),
		newPeopleShowCommand(ctx),
		newPeopleUpdateCommand(ctx),
		newPeopleDeactivateCommand(ctx),
	)
	return peopleCmd
}

func newPeopleCreateCommand(ctx *commandContext) *cobra.Command {
	var in identity.NewPerson
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				p, err := st.CreatePerson(c, orgID, in)
				if err != nil {
					return err
				}
				return printPerson(cmd, ctx, p)
			})
		},
	}
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&in.PrimaryEmail, "email", "", "Primary email address")
	cmd.Flags().StringVar(&in.Team, "team", "", "Team")
	cmd.Flags().StringVar(&in.Role, "role", "", "Role")
	return cmd
}

func newPeopleListCommand(ctx *commandContext) *cobra.Command {
	var (
		filter identity.PersonFilter
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List people",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = identity.PersonStatus(status)
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				people, err := st.ListPeople(c, orgID, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, nonNil(people))
				}
				rows := make([][]string, 0, len(people))
				for _, p := range people {
					rows = append(rows, []string{p.ID, p.DisplayName, dash(p.PrimaryEmail), dash(p.Team), string(p.Status)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
					[]string{"ID", "Name", "Email", "Team", "Status"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active or inactive)")
	cmd.Flags().StringVar(&filter.Team, "team", "", "Filter by team")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Match name or email substring")
	addPageFlags(cmd, &filter.Page)
	return cmd
}

func newPeopleShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <person-id>",
		Short: "Show a person and their active links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				p, err := st.GetPerson(c, orgID, args[0])
				if err != nil {
					return err
				}
				links, err := st.ListLinks(c, orgID, identity.LinkFilter{PersonID: p.ID, Page: identity.Page{Limit: identity.MaxPageLimit}})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, struct {
						identity.Person
						Links []identity.Link `json:"links"`
					}{p, nonNil(links)})
				}
				if err := printPerson(cmd, ctx, p); err != nil {
					return err
				}
				if len(links) > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
					printLinkTable(cmd, links)
				}
				return nil
			})
		},
	}
}

func newPeopleUpdateCommand(ctx *commandContext) *cobra.Command {
	var name, email, team, role string
	cmd := &cobra.Command{
		Use:   "update <person-id>",
		Short: "Update fields of a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd identity.PersonUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				upd.DisplayName = &name
			}
			if flags.Changed("email") {
				upd.PrimaryEmail = &email
			}
			if flags.Changed("team") {
				upd.Team = &team
			}
			if flags.Changed("role") {
				upd.Role = &role
			}
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				p, err := st.UpdatePerson(c, orgID, args[0], upd)
				if err != nil {
					return err
				}
				return printPerson(cmd, ctx, p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Primary email address (empty clears it)")
	cmd.Flags().StringVar(&team, "team", "", "Team (empty clears it)")
	cmd.Flags().StringVar(&role, "role", "", "Role (empty clears it)")
	return cmd
}

func newPeopleDeactivateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <person-id>",
		Short: "Remove a person from the matching candidate pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, st *store.Store, orgID string) error {
				if err := st.DeactivatePerson(c, orgID, args[0]); err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"ok": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Person %s deactivated\n", args[0])
				return nil
			})
		},
	}
}

func printPerson(cmd *cobra.Command, ctx *commandContext, p identity.Person) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, p)
	}
	rows := [][]string{
		{"ID", p.ID},
		{"Name", p.DisplayName},
		{"Email", dash(p.PrimaryEmail)},
		{"Team", dash(p.Team)},
		{"Role", dash(p.Role)},
		{"Status", string(p.Status)},
		{"Created", formatTimestamp(p.CreatedAt)},
		{"Updated", formatTimestamp(p.UpdatedAt)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows, nil))
	return nil
}

func addPageFlags(cmd *cobra.Command, page *identity.Page) {
	cmd.Flags().IntVar(&page.Limit, "limit", identity.DefaultPageLimit, "Maximum rows to return")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "Rows to skip")
}

// nonNil keeps empty listings encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
