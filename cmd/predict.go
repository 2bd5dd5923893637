package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fugebench/fugebench/internal/artifact"
)

func newPredictCmd() *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "predict [artifact...]",
		Short: "Run predict mode for fuzzy systems against predict_dataset",
		Long:  "Run predict mode for the named fuzzy systems (all of them when none are named) and print each prediction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			r := e.runner()
			if err := r.Check(cmd.Context()); err != nil {
				return err
			}
			all, err := r.Enumerate()
			if err != nil {
				return err
			}
			selected, err := selectArtifacts(all, args, e.cfg.Results.ArtifactExt)
			if err != nil {
				return err
			}

			preds, err := r.Predict(cmd.Context(), selected)
			for _, p := range preds {
				fmt.Printf("== %s ==\n", p.Artifact)
				if p.Error != "" {
					fmt.Printf("  ERROR: %s\n", p.Error)
				}
				if f, openErr := os.Open(p.LogPath); openErr == nil {
					io.Copy(os.Stdout, f)
					f.Close()
				}
			}
			if !keep {
				r.Cleanup()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep prediction output under the results root")
	return cmd
}

func selectArtifacts(all []artifact.Artifact, names []string, ext string) ([]artifact.Artifact, error) {
	if len(names) == 0 {
		return all, nil
	}
	var selected []artifact.Artifact
	for _, n := range names {
		a, ok := artifact.Find(all, n, ext)
		if !ok {
			return nil, fmt.Errorf("fuzzy system %q not found", n)
		}
		selected = append(selected, a)
	}
	return selected, nil
}
