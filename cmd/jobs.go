package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tablescan/internal/jobs"
)

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "jobs",
		Short:       "Lists the available jobs",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range jobs.Names() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
