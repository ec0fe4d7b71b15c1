package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"avsync-studio/internal/diagnostics"
	"avsync-studio/internal/domain"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and configured directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}

			report := diagnostics.NewChecker().Run(settings)
			for _, item := range report.Items {
				marker := "ok"
				if item.Status == domain.DiagnosticStatusFail {
					marker = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%4s] %-18s %s\n", marker, item.Name, item.Message)
				if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
					fmt.Fprintf(cmd.OutOrStdout(), "       hint: %s\n", item.Hint)
				}
			}

			if report.HasFailures {
				return fmt.Errorf("environment checks failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
			return nil
		},
	}
}
