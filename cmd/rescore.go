package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fugebench/fugebench/internal/report"
)

func newRescoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Re-extract the metric from evaluation logs kept by an earlier run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := report.CheckFormat(flagFormat); err != nil {
				return err
			}
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			if flagMarker != "" {
				e.cfg.Evaluation.Marker = flagMarker
			}

			results, err := e.runner().Rescore()
			if err != nil {
				return err
			}
			return report.Evaluations(results, e.cfg.Evaluation.Marker, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagMarker, "marker", "", "override the metric marker")
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}
