package runner_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fugebench/fugebench/internal/artifact"
	"github.com/fugebench/fugebench/internal/config"
	"github.com/fugebench/fugebench/internal/result"
	"github.com/fugebench/fugebench/internal/runner"
	"github.com/fugebench/fugebench/internal/tool"
)

// fakeExec stands in for FUGE-LC. Training writes the named artifacts and a
// temp file; evaluation prints the configured output for each artifact.
type fakeExec struct {
	cfg         *config.Config
	produce     []string
	trainExit   int
	evalOutput  map[string]string
	evalExit    map[string]int
	unavailable bool

	mu    sync.Mutex
	calls []tool.Invocation
}

func (f *fakeExec) Name() string { return "fake" }

func (f *fakeExec) Check(context.Context, string) error {
	if f.unavailable {
		return tool.ErrToolUnavailable
	}
	return nil
}

func (f *fakeExec) Run(ctx context.Context, inv *tool.Invocation, stdout, stderr io.Writer) (*tool.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *inv)
	f.mu.Unlock()
	if f.unavailable {
		return nil, tool.ErrToolUnavailable
	}

	code := 0
	switch inv.Mode {
	case tool.ModeTrain:
		os.MkdirAll(f.cfg.ArtifactsPath(), 0o755)
		os.MkdirAll(f.cfg.TempPath(), 0o755)
		for _, name := range f.produce {
			os.WriteFile(filepath.Join(f.cfg.ArtifactsPath(), name), []byte("fs"), 0o644)
		}
		os.WriteFile(filepath.Join(f.cfg.TempPath(), "coev.tmp"), []byte("tmp"), 0o644)
		code = f.trainExit
	case tool.ModeEvaluate, tool.ModePredict:
		name := filepath.Base(flagValue(inv.Args, "-f"))
		if inv.Mode == tool.ModePredict {
			io.WriteString(stdout, "Predicted results : (1, 0)\n")
		} else {
			io.WriteString(stdout, f.evalOutput[name])
		}
		code = f.evalExit[name]
	}

	out := &tool.Outcome{ExitCode: code, ExitReason: tool.ExitReasonFromCode(code, false)}
	if code != 0 {
		return out, &tool.FailedError{Mode: inv.Mode, ExitCode: code}
	}
	return out, nil
}

func (f *fakeExec) count(mode tool.Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Mode == mode {
			n++
		}
	}
	return n
}

func flagValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Tool.Path = "/opt/fuge/FUGE-LC"
	cfg.Dataset = "/data/arrhythmia.csv"
	cfg.Script = "/data/test.fs"
	cfg.Results.Root = t.TempDir()
	return &cfg
}

func accuracy(v string) string {
	return fmt.Sprintf("Loading\n[Fitness] : 0.5\n[Accuracy] : %s\n", v)
}

func byArtifact(results []*result.Evaluation) map[string]*result.Evaluation {
	m := map[string]*result.Evaluation{}
	for _, r := range results {
		m[r.Artifact] = r
	}
	return m
}

func TestRunEvaluatesEachArtifactOnce(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d artifacts", n), func(t *testing.T) {
			cfg := testConfig(t)
			fe := &fakeExec{cfg: cfg, evalOutput: map[string]string{}}
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("sys%d.ffs", i)
				fe.produce = append(fe.produce, name)
				fe.evalOutput[name] = accuracy(fmt.Sprintf("0.%d", i+1))
			}

			run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := fe.count(tool.ModeEvaluate); got != n {
				t.Errorf("expected %d evaluate invocations, got %d", n, got)
			}
			if got := fe.count(tool.ModeTrain); got != 1 {
				t.Errorf("expected 1 train invocation, got %d", got)
			}
			if len(run.Results) != n {
				t.Fatalf("expected %d results, got %d", n, len(run.Results))
			}
			for _, ev := range run.Results {
				if ev.Status != result.StatusOK || !ev.Numeric {
					t.Errorf("%s: unexpected result %+v", ev.Artifact, ev)
				}
				if ev.Metrics["Fitness"] != "0.5" {
					t.Errorf("%s: expected metric block, got %v", ev.Artifact, ev.Metrics)
				}
			}
		})
	}
}

func TestRunEmptyArtifactDirectory(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.ArtifactsPath(), 0o755); err != nil {
		t.Fatal(err)
	}
	fe := &fakeExec{cfg: cfg}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Results) != 0 {
		t.Errorf("expected no results, got %d", len(run.Results))
	}
	if len(fe.calls) != 0 {
		t.Errorf("expected no invocations, got %d", len(fe.calls))
	}
}

func TestMissingMarkerIsNotStale(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{
		cfg:     cfg,
		produce: []string{"a.ffs", "b.ffs"},
		evalOutput: map[string]string{
			"a.ffs": accuracy("0.91"),
			"b.ffs": "Loading\n[Fitness] : 0.4\n",
		},
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := byArtifact(run.Results)
	if got["a.ffs"].Raw != "0.91" {
		t.Errorf("a.ffs: got %q", got["a.ffs"].Raw)
	}
	b := got["b.ffs"]
	if b.Status != result.StatusMetricNotFound {
		t.Errorf("b.ffs: expected metric_not_found, got %q", b.Status)
	}
	if b.Raw != "" || b.Value != 0 {
		t.Errorf("b.ffs: carried a stale value %q/%v", b.Raw, b.Value)
	}
}

func TestToolFailureIsLocalToArtifact(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{
		cfg:        cfg,
		produce:    []string{"a.ffs", "b.ffs", "c.ffs"},
		evalOutput: map[string]string{"a.ffs": accuracy("0.7"), "c.ffs": accuracy("0.8")},
		evalExit:   map[string]int{"b.ffs": 3},
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := byArtifact(run.Results)
	if got["b.ffs"].Status != result.StatusToolFailed || got["b.ffs"].ExitCode != 3 {
		t.Errorf("b.ffs: expected tool_failed with exit 3, got %+v", got["b.ffs"])
	}
	if got["a.ffs"].Status != result.StatusOK || got["c.ffs"].Status != result.StatusOK {
		t.Error("other artifacts should still be evaluated")
	}
}

func TestTrainingFailureIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{
		cfg:        cfg,
		produce:    []string{"a.ffs"},
		trainExit:  1,
		evalOutput: map[string]string{"a.ffs": accuracy("0.6")},
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Failed() {
		t.Error("expected run to carry the training failure")
	}
	if len(run.Results) != 1 {
		t.Errorf("expected the produced artifact to be evaluated, got %d results", len(run.Results))
	}
}

func TestArtifactDirectoryUnavailable(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{cfg: cfg}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{})
	if !errors.Is(err, artifact.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	if run == nil {
		t.Fatal("expected a partial run")
	}
}

func TestToolUnavailableIsFatal(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{cfg: cfg, unavailable: true}
	_, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if !errors.Is(err, tool.ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestCleanupRemovesOnlyRunFiles(t *testing.T) {
	cfg := testConfig(t)
	for _, dir := range []string{cfg.ArtifactsPath(), cfg.TempPath(), cfg.EvaluationPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	unrelated := filepath.Join(cfg.TempPath(), "someone-elses.tmp")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	fe := &fakeExec{
		cfg:        cfg,
		produce:    []string{"a.ffs", "b.ffs"},
		evalOutput: map[string]string{"a.ffs": accuracy("0.1"), "b.ffs": accuracy("0.2")},
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Cleanup.Errors) != 0 {
		t.Errorf("cleanup errors: %v", run.Cleanup.Errors)
	}
	// two artifacts, two evaluation logs, one temp file
	if run.Cleanup.Removed != 5 {
		t.Errorf("expected 5 removed files, got %d", run.Cleanup.Removed)
	}
	for _, dir := range []string{cfg.ArtifactsPath(), cfg.EvaluationPath()} {
		if left := artifact.TakeSnapshot(dir); len(left) != 0 {
			t.Errorf("%s not empty: %v", dir, left)
		}
	}
	left := artifact.TakeSnapshot(cfg.TempPath())
	if len(left) != 1 || !left.Has("someone-elses.tmp") {
		t.Errorf("temp should hold only the unrelated file, got %v", left)
	}
}

func TestCleanupRemovesFilesRewrittenByTraining(t *testing.T) {
	cfg := testConfig(t)
	for _, dir := range []string{cfg.ArtifactsPath(), cfg.TempPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-time.Hour)
	for _, p := range []string{
		filepath.Join(cfg.ArtifactsPath(), "a.ffs"),
		filepath.Join(cfg.TempPath(), "coev.tmp"),
	} {
		if err := os.WriteFile(p, []byte("left by an earlier run"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	fe := &fakeExec{
		cfg:        cfg,
		produce:    []string{"a.ffs"},
		evalOutput: map[string]string{"a.ffs": accuracy("0.4")},
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := byArtifact(run.Results)["a.ffs"]; got == nil || got.Raw != "0.4" {
		t.Fatalf("unexpected result %+v", got)
	}
	// rewritten artifact, rewritten temp file, evaluation log
	if run.Cleanup.Removed != 3 {
		t.Errorf("expected 3 removed files, got %d", run.Cleanup.Removed)
	}
	for _, dir := range []string{cfg.ArtifactsPath(), cfg.TempPath(), cfg.EvaluationPath()} {
		if left := artifact.TakeSnapshot(dir); len(left) != 0 {
			t.Errorf("%s not empty: %v", dir, left)
		}
	}
}

func TestKeepThenRescore(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{
		cfg:        cfg,
		produce:    []string{"a.ffs", "b.ffs"},
		evalOutput: map[string]string{"a.ffs": accuracy("0.33"), "b.ffs": "nothing here\n"},
	}
	r := runner.New(cfg, fe)
	run, err := r.Run(context.Background(), runner.RunOptions{Train: true, Keep: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Cleanup.Skipped {
		t.Error("expected cleanup to be skipped")
	}

	for i := 0; i < 2; i++ {
		rescored, err := r.Rescore()
		if err != nil {
			t.Fatalf("Rescore: %v", err)
		}
		got := byArtifact(rescored)
		if got["a.ffs"].Raw != "0.33" || got["b.ffs"].Status != result.StatusMetricNotFound {
			t.Errorf("rescore pass %d: unexpected %+v / %+v", i, got["a.ffs"], got["b.ffs"])
		}
	}
	if fe.count(tool.ModeEvaluate) != 2 {
		t.Errorf("rescore must not invoke the tool")
	}

	rep := r.Cleanup()
	if rep.Removed == 0 {
		t.Error("explicit cleanup should remove kept files")
	}
}

func TestParallelEvaluation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluation.Parallel = 4
	fe := &fakeExec{cfg: cfg, evalOutput: map[string]string{}}
	for i := 0; i < 9; i++ {
		name := fmt.Sprintf("sys%d.ffs", i)
		fe.produce = append(fe.produce, name)
		fe.evalOutput[name] = accuracy(fmt.Sprintf("0.%d", i))
	}
	run, err := runner.New(cfg, fe).Run(context.Background(), runner.RunOptions{Train: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Results) != 9 || fe.count(tool.ModeEvaluate) != 9 {
		t.Fatalf("expected 9 results and invocations, got %d/%d", len(run.Results), fe.count(tool.ModeEvaluate))
	}
	names := make([]string, 0, 9)
	for _, ev := range run.Results {
		names = append(names, ev.Artifact)
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("results should keep enumeration order, got %v", names)
	}
}

func TestPredict(t *testing.T) {
	cfg := testConfig(t)
	fe := &fakeExec{cfg: cfg}
	r := runner.New(cfg, fe)
	as := []artifact.Artifact{{Name: "One.ffs", Path: "/r/fuzzySystems/One.ffs"}}

	if _, err := r.Predict(context.Background(), as); err == nil {
		t.Fatal("expected error without predict_dataset")
	}

	cfg.PredictDataset = "/data/pred.csv"
	preds, err := r.Predict(context.Background(), as)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != 1 || preds[0].Error != "" {
		t.Fatalf("unexpected predictions %+v", preds)
	}
	data, err := os.ReadFile(preds[0].LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Predicted results : (1, 0)\n" {
		t.Errorf("prediction log: got %q", data)
	}
	if flagValue(fe.calls[0].Args, "-d") != "/data/pred.csv" {
		t.Errorf("predict should use the prediction dataset, args %q", fe.calls[0].Args)
	}
	if len(r.Created()) != 1 {
		t.Errorf("prediction log should be recorded for cleanup, got %v", r.Created())
	}
}
