package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fugebench/fugebench/internal/artifact"
	"github.com/fugebench/fugebench/internal/config"
	"github.com/fugebench/fugebench/internal/metric"
	"github.com/fugebench/fugebench/internal/result"
	"github.com/fugebench/fugebench/internal/telemetry"
	"github.com/fugebench/fugebench/internal/tool"
)

// Runner drives one batch: train, enumerate, evaluate, extract, clean up.
type Runner struct {
	cfg     *config.Config
	exec    tool.Executor
	logger  *slog.Logger
	metrics *telemetry.Metrics
	toolLog io.Writer
	ledger  *artifact.Ledger
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithToolOutput sets where training output and every invocation's stderr go.
func WithToolOutput(w io.Writer) Option {
	return func(r *Runner) { r.toolLog = w }
}

func New(cfg *config.Config, exec tool.Executor, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		exec:    exec,
		logger:  slog.New(slog.DiscardHandler),
		toolLog: io.Discard,
		ledger:  artifact.NewLedger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewExecutor picks the executor backend named in the config.
func NewExecutor(cfg *config.Config) tool.Executor {
	if cfg.Tool.Executor == config.ExecutorDocker {
		return &tool.DockerExecutor{Image: cfg.Tool.Image}
	}
	return tool.LocalExecutor{}
}

type RunOptions struct {
	Train bool
	// Keep skips cleanup so evaluation logs can be rescored later.
	Keep bool
}

// Run executes the whole workflow. The returned Run is non-nil whenever the
// workflow started, even if err is set.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*result.Run, error) {
	run := &result.Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Executor:  r.exec.Name(),
		Dataset:   r.cfg.Dataset,
		Script:    r.cfg.Script,
		Marker:    r.cfg.Evaluation.Marker,
	}
	logger := r.logger.With("run_id", run.ID)

	if err := r.Check(ctx); err != nil {
		return nil, err
	}

	finish := func(err error) (*result.Run, error) {
		run.Cleanup = r.finishCleanup(opts.Keep)
		run.FinishedAt = time.Now().UTC()
		r.metrics.RunFinished(run.FinishedAt)
		return run, err
	}

	if opts.Train {
		if err := r.Train(ctx); err != nil {
			if errors.Is(err, tool.ErrToolUnavailable) || ctx.Err() != nil {
				return finish(err)
			}
			run.TrainError = err.Error()
			logger.Error("training failed, evaluating whatever was produced", "error", err)
		}
	}

	artifacts, err := r.Enumerate()
	if err != nil {
		return finish(err)
	}
	logger.Info("artifacts enumerated", "count", len(artifacts), "dir", r.cfg.ArtifactsPath())

	results, err := r.Evaluate(ctx, artifacts)
	run.Results = results
	return finish(err)
}

func (r *Runner) Check(ctx context.Context) error {
	if err := r.exec.Check(ctx, r.cfg.Tool.Path); err != nil {
		return fmt.Errorf("checking %s executor: %w", r.exec.Name(), err)
	}
	return nil
}

func (r *Runner) invocation(mode tool.Mode, args []string) *tool.Invocation {
	return &tool.Invocation{
		Mode:    mode,
		Path:    r.cfg.Tool.Path,
		Args:    args,
		Dir:     r.cfg.Tool.WorkDir,
		Env:     r.cfg.Tool.Env,
		Timeout: r.cfg.Tool.Timeout,
		Inputs:  []string{r.cfg.Dataset, r.cfg.Script},
		Outputs: []string{r.cfg.Results.Root},
	}
}

// Train runs the tool once to produce artifacts. Entries that appear in the
// artifact and temp directories are recorded for cleanup even when training
// fails.
func (r *Runner) Train(ctx context.Context) error {
	artifactsBefore := artifact.TakeSnapshot(r.cfg.ArtifactsPath())
	tempBefore := artifact.TakeSnapshot(r.cfg.TempPath())

	inv := r.invocation(tool.ModeTrain, tool.TrainArgs(r.cfg.Dataset, r.cfg.Script))
	r.logger.Info("training", "tool", inv.Path, "dataset", r.cfg.Dataset, "script", r.cfg.Script)
	out, err := r.exec.Run(ctx, inv, r.toolLog, r.toolLog)
	if out != nil {
		r.metrics.ObserveInvocation(string(tool.ModeTrain), out.ExitReason, out.Duration)
	}

	created := r.ledger.RecordChanged(r.cfg.ArtifactsPath(), artifactsBefore)
	r.ledger.RecordChanged(r.cfg.TempPath(), tempBefore)
	r.logger.Debug("training produced entries", "count", len(created))

	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	return nil
}

func (r *Runner) Enumerate() ([]artifact.Artifact, error) {
	return artifact.Enumerate(r.cfg.ArtifactsPath(), r.cfg.Results.ArtifactExt)
}

// Evaluate runs one evaluate invocation per artifact and extracts the metric
// from each log. Per-artifact failures are recorded on the result; only an
// unavailable tool or cancellation is returned as an error.
func (r *Runner) Evaluate(ctx context.Context, artifacts []artifact.Artifact) ([]*result.Evaluation, error) {
	if err := artifact.EnsureDir(r.cfg.EvaluationPath()); err != nil {
		return nil, err
	}

	results := make([]*result.Evaluation, len(artifacts))
	jobs := make([]Job, len(artifacts))
	for i, a := range artifacts {
		jobs[i] = func(ctx context.Context) error {
			ev, err := r.evaluateOne(ctx, a)
			results[i] = ev
			if err != nil {
				return Abort(err)
			}
			return nil
		}
	}
	errs := RunPool(ctx, r.cfg.Evaluation.Parallel, jobs)

	done := make([]*result.Evaluation, 0, len(results))
	for _, ev := range results {
		if ev != nil {
			done = append(done, ev)
		}
	}
	if len(errs) > 0 {
		return done, errs[0]
	}
	if ctx.Err() != nil {
		return done, ctx.Err()
	}
	return done, nil
}

func (r *Runner) evaluateOne(ctx context.Context, a artifact.Artifact) (*result.Evaluation, error) {
	logPath := filepath.Join(r.cfg.EvaluationPath(), a.Name)
	f, err := os.Create(logPath)
	if err != nil {
		return &result.Evaluation{
			Artifact: a.Name,
			Marker:   r.cfg.Evaluation.Marker,
			Status:   result.StatusToolFailed,
			Error:    fmt.Sprintf("creating result file: %v", err),
		}, nil
	}
	r.ledger.Record(logPath)

	inv := r.invocation(tool.ModeEvaluate, tool.EvaluateArgs(r.cfg.Dataset, r.cfg.Script, a.Path))
	inv.Inputs = append(inv.Inputs, a.Path)
	out, runErr := r.exec.Run(ctx, inv, f, r.toolLog)
	f.Close()

	if runErr != nil && out == nil {
		// The process never produced an outcome: the tool is gone or we were cancelled.
		return nil, fmt.Errorf("evaluating %s: %w", a.Name, runErr)
	}
	r.metrics.ObserveInvocation(string(tool.ModeEvaluate), out.ExitReason, out.Duration)

	if runErr != nil {
		r.logger.Warn("evaluation failed", "artifact", a.Name, "exit_code", out.ExitCode, "reason", out.ExitReason)
		return &result.Evaluation{
			Artifact:  a.Name,
			Marker:    r.cfg.Evaluation.Marker,
			Status:    result.StatusToolFailed,
			ExitCode:  out.ExitCode,
			TimedOut:  out.TimedOut,
			Error:     runErr.Error(),
			DurationS: out.Duration.Seconds(),
		}, nil
	}

	ev := r.ScoreLog(a.Name, logPath)
	ev.ExitCode = out.ExitCode
	ev.DurationS = out.Duration.Seconds()
	return ev, nil
}

// ScoreLog extracts the configured metric, and the full metric block, from
// one evaluation log.
func (r *Runner) ScoreLog(name, logPath string) *result.Evaluation {
	ev := &result.Evaluation{Artifact: name, Marker: r.cfg.Evaluation.Marker}

	raw, err := metric.ExtractFile(logPath, r.cfg.Evaluation.Marker, r.cfg.Evaluation.TokenIndex)
	switch {
	case errors.Is(err, metric.ErrNotFound):
		ev.Status = result.StatusMetricNotFound
		ev.Error = err.Error()
		r.metrics.MetricMissing()
		r.logger.Warn("metric not found", "artifact", name, "marker", r.cfg.Evaluation.Marker)
	case err != nil:
		ev.Status = result.StatusMetricNotFound
		ev.Error = err.Error()
		r.logger.Warn("reading result file", "artifact", name, "error", err)
	default:
		ev.Status = result.StatusOK
		ev.Raw = raw
		ev.Value, ev.Numeric = metric.ParseValue(raw)
		if ev.Numeric {
			r.metrics.SetMetric(name, r.cfg.Evaluation.Marker, ev.Value)
		}
	}

	if block, err := metric.ParseBlockFile(logPath); err == nil && len(block) > 0 {
		ev.Metrics = block
	}
	return ev
}

// Rescore re-extracts metrics from evaluation logs left on disk by an earlier
// run. It never invokes the tool.
func (r *Runner) Rescore() ([]*result.Evaluation, error) {
	logs, err := artifact.Enumerate(r.cfg.EvaluationPath(), r.cfg.Results.ArtifactExt)
	if err != nil {
		return nil, fmt.Errorf("listing evaluation logs: %w", err)
	}
	results := make([]*result.Evaluation, 0, len(logs))
	for _, l := range logs {
		results = append(results, r.ScoreLog(l.Name, l.Path))
	}
	return results, nil
}

// Predict runs predict mode for each artifact against the prediction dataset.
// Combined output is kept under the prediction directory.
func (r *Runner) Predict(ctx context.Context, artifacts []artifact.Artifact) ([]*result.Prediction, error) {
	if r.cfg.PredictDataset == "" {
		return nil, errors.New("predict_dataset is not configured")
	}
	if err := artifact.EnsureDir(r.cfg.PredictionPath()); err != nil {
		return nil, err
	}

	var preds []*result.Prediction
	for _, a := range artifacts {
		logPath := filepath.Join(r.cfg.PredictionPath(), a.Name)
		p := &result.Prediction{Artifact: a.Name, LogPath: logPath}
		preds = append(preds, p)

		f, err := os.Create(logPath)
		if err != nil {
			p.Error = fmt.Sprintf("creating prediction file: %v", err)
			continue
		}
		r.ledger.Record(logPath)

		inv := r.invocation(tool.ModePredict, tool.PredictArgs(r.cfg.PredictDataset, r.cfg.Script, a.Path))
		inv.Inputs = append(inv.Inputs, r.cfg.PredictDataset, a.Path)
		out, runErr := r.exec.Run(ctx, inv, f, f)
		f.Close()
		if runErr != nil && out == nil {
			return preds, fmt.Errorf("predicting %s: %w", a.Name, runErr)
		}
		r.metrics.ObserveInvocation(string(tool.ModePredict), out.ExitReason, out.Duration)
		p.ExitCode = out.ExitCode
		p.DurationS = out.Duration.Seconds()
		if runErr != nil {
			p.Error = runErr.Error()
			r.logger.Warn("prediction failed", "artifact", a.Name, "exit_code", out.ExitCode)
		}
	}
	return preds, nil
}

// Cleanup removes every file this runner recorded as created. Errors are
// logged and reported, never returned.
func (r *Runner) Cleanup() result.CleanupReport {
	paths := r.ledger.Paths()
	errs := r.ledger.Cleanup()
	rep := result.CleanupReport{Removed: len(paths) - len(errs)}
	for _, err := range errs {
		r.logger.Warn("cleanup failed", "error", err)
		rep.Errors = append(rep.Errors, err.Error())
	}
	r.metrics.CleanupErrors(len(errs))
	return rep
}

// Created lists the paths currently recorded for cleanup.
func (r *Runner) Created() []string {
	return r.ledger.Paths()
}

func (r *Runner) finishCleanup(keep bool) result.CleanupReport {
	if keep {
		r.logger.Info("keeping run files", "count", len(r.ledger.Paths()))
		return result.CleanupReport{Skipped: true}
	}
	return r.Cleanup()
}
