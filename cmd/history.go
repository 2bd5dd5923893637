package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()
			store, err := e.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tMARKER\tARTIFACTS\tTRAINING")
			for _, info := range infos {
				training := "ok"
				if info.TrainError != "" {
					training = "failed"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", info.ID, info.StartedAt.Local().Format("2006-01-02 15:04:05"), info.Marker, info.Artifacts, training)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list (0 for all)")
	return cmd
}
