package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the fuzzy systems in the results root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			as, err := e.runner().Enumerate()
			if err != nil {
				return err
			}
			fmt.Printf("Fuzzy systems in %s:\n", e.cfg.ArtifactsPath())
			for _, a := range as {
				fmt.Printf("  - %s\n", a.Name)
			}
			return nil
		},
	}
}
