package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roster/internal/identity"
	"roster/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the database, matching config, and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, r := range results {
					mark := "ok"
					if !r.Passed {
						mark = "FAIL"
					}
					fmt.Fprintf(out, "%-4s  %-20s %s\n", mark, r.Name, r.Detail)
				}
			}
			if !preflight.AllPassed(results) {
				return identity.Internalf("one or more checks failed")
			}
			return nil
		},
	}
}
