package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fugebench/fugebench/internal/config"
	"github.com/fugebench/fugebench/internal/report"
	"github.com/fugebench/fugebench/internal/result"
	"github.com/fugebench/fugebench/internal/runner"
)

var (
	flagKeep       bool
	flagMarker     string
	flagParallel   int
	flagFormat     string
	flagSave       string
	flagToolOutput bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, evaluate every fuzzy system and report the metric",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, true)
		},
	}
	addBatchFlags(cmd)
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the fuzzy systems already on disk without training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, false)
		},
	}
	addBatchFlags(cmd)
	return cmd
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagKeep, "keep", false, "keep files created by the run for later rescoring")
	cmd.Flags().StringVar(&flagMarker, "marker", "", "override the metric marker")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "override max concurrent evaluations")
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagSave, "save", "", "also write the run as JSON to this path")
	cmd.Flags().BoolVar(&flagToolOutput, "tool-output", false, "stream tool training output and stderr to stderr")
}

// applyRunFlags folds command-line overrides into the loaded config.
func applyRunFlags(cfg *config.Config) error {
	if flagMarker != "" {
		cfg.Evaluation.Marker = flagMarker
	}
	if flagParallel != 0 {
		cfg.Evaluation.Parallel = flagParallel
	}
	if err := report.CheckFormat(flagFormat); err != nil {
		return err
	}
	return config.Validate(cfg)
}

func runBatch(cmd *cobra.Command, train bool) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()
	if err := applyRunFlags(e.cfg); err != nil {
		return err
	}

	var opts []runner.Option
	if flagToolOutput {
		opts = append(opts, runner.WithToolOutput(os.Stderr))
	}
	r := e.runner(opts...)

	fmt.Printf("Results root: %s\n", e.cfg.Results.Root)
	run, err := r.Run(cmd.Context(), runner.RunOptions{Train: train, Keep: flagKeep})
	if run == nil {
		return err
	}
	fmt.Printf("Run ID: %s\n", run.ID)
	if saveErr := saveRun(e, run); saveErr != nil {
		e.logger.Error("run not saved", "run_id", run.ID, "error", saveErr)
	}

	fmt.Println("\n--- Results ---")
	if repErr := report.Generate(run, flagFormat, os.Stdout); repErr != nil {
		return repErr
	}
	if err != nil {
		return err
	}
	if run.Failed() {
		return fmt.Errorf("training failed: %s", run.TrainError)
	}
	return nil
}

func saveRun(e *env, run *result.Run) error {
	if flagSave != "" {
		if err := result.WriteRunFile(flagSave, run); err != nil {
			return err
		}
	}
	if e.cfg.History.DB == "" {
		return nil
	}
	store, err := e.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(run)
}

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run FUGE-LC training only and list the fuzzy systems it produced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			r := e.runner(runner.WithToolOutput(os.Stderr))
			if err := r.Check(cmd.Context()); err != nil {
				return err
			}
			trainErr := r.Train(cmd.Context())
			if as, err := r.Enumerate(); err == nil {
				fmt.Printf("%d fuzzy systems in %s\n", len(as), e.cfg.ArtifactsPath())
				for _, a := range as {
					fmt.Printf("  - %s\n", a.Name)
				}
			}
			return trainErr
		},
	}
}
