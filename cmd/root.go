package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fugebench/fugebench/internal/config"
	"github.com/fugebench/fugebench/internal/history"
	"github.com/fugebench/fugebench/internal/logging"
	"github.com/fugebench/fugebench/internal/runner"
	"github.com/fugebench/fugebench/internal/telemetry"
)

var (
	cfgFile       string
	flagLogLevel  string
	flagLogFormat string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fugebench",
		Short:        "Batch training and evaluation runner for FUGE-LC fuzzy classifiers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "fugebench.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "override log format (console, json)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newTrainCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newPredictCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newRescoreCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newCompareCmd())
	return root
}

// env is what every command needs once the config is loaded.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	shutdown logging.ShutdownFunc
}

func setup() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	logger, shutdown, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logger = logging.FallbackLogger()
		shutdown = func() error { return nil }
		logger.Warn("falling back to plain text logging", "level", cfg.Log.Level, "format", cfg.Log.Format, "error", err)
	}
	return &env{cfg: cfg, logger: logger, metrics: telemetry.New(), shutdown: shutdown}, nil
}

func (e *env) runner(opts ...runner.Option) *runner.Runner {
	opts = append([]runner.Option{runner.WithLogger(e.logger), runner.WithMetrics(e.metrics)}, opts...)
	return runner.New(e.cfg, runner.NewExecutor(e.cfg), opts...)
}

func (e *env) openHistory() (*history.Store, error) {
	if e.cfg.History.DB == "" {
		return nil, fmt.Errorf("history.db is not set in %s", cfgFile)
	}
	return history.Open(e.cfg.History.DB)
}

func (e *env) close() {
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		e.logger.Warn("metrics not written", "error", err)
	}
	_ = e.shutdown()
}
