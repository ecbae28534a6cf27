package main

import (
	"github.com/spf13/cobra"
)

// newRootCommand builds the CLI. Call the returned cleanup once Execute
// returns.
func newRootCommand() (*cobra.Command, func()) {
	var configFlag string
	var orgFlag string
	var jsonFlag bool

	ctx := newCommandContext(&configFlag, &orgFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "roster",
		Short:         "Reconcile people across the accounts they hold in external tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "Organization to act on (default tenant.org_id or $ROSTER_ORG_ID)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Write JSON instead of tables")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newPeopleCommand(ctx))
	rootCmd.AddCommand(newIdentitiesCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newLinksCommand(ctx))
	rootCmd.AddCommand(newConflictsCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))

	return rootCmd, ctx.close
}
