package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fugebench/fugebench/internal/history"
	"github.com/fugebench/fugebench/internal/report"
	"github.com/fugebench/fugebench/internal/result"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-id | run.json]",
		Short: "Render a recorded run (default: the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := report.CheckFormat(flagFormat); err != nil {
				return err
			}
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			ref := ""
			if len(args) > 0 {
				ref = args[0]
			}
			runs, err := loadRuns(e, ref)
			if err != nil {
				return err
			}
			return report.Generate(runs[0], flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <run-a> <run-b>",
		Short: "Show a unified diff of two runs' per-artifact metrics",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			runs, err := loadRuns(e, args...)
			if err != nil {
				return err
			}
			return report.WriteCompare(runs[0], runs[1], os.Stdout)
		},
	}
}

// isRunFile reports whether a run reference names a JSON file rather than
// a history ID.
func isRunFile(ref string) bool {
	return strings.HasSuffix(ref, ".json")
}

// loadRuns resolves each reference to a run. JSON paths are read directly;
// anything else is a history ID prefix, and "" means the latest run.
func loadRuns(e *env, refs ...string) ([]*result.Run, error) {
	var store *history.Store
	defer func() {
		if store != nil {
			store.Close()
		}
	}()

	runs := make([]*result.Run, 0, len(refs))
	for _, ref := range refs {
		if isRunFile(ref) {
			run, err := result.ReadRunFile(ref)
			if err != nil {
				return nil, err
			}
			runs = append(runs, run)
			continue
		}
		if store == nil {
			var err error
			if store, err = e.openHistory(); err != nil {
				return nil, err
			}
		}
		id := ref
		if id == "" {
			var err error
			if id, err = store.Latest(); err != nil {
				return nil, err
			}
		}
		run, err := store.Load(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
